/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package workload

import (
	"errors"
	"testing"

	"github.com/schedtest/schedtest/internal/errs"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestProcessStateStartRoundTrip(t *testing.T) {
	var s processState
	initProcessState(&s)

	_, _, failed := s.loadStart()
	assert.False(t, failed, "unset slot must not report failure")

	s.storeStart(stageNone, 0)
	st, errno, failed := s.loadStart()
	assert.False(t, failed)
	assert.Equal(t, stageNone, st)
	assert.Zero(t, errno)

	s.resetStart()
	s.storeStart(stageSchedExt, 13)
	st, errno, failed = s.loadStart()
	assert.True(t, failed)
	assert.Equal(t, stageSchedExt, st)
	assert.EqualValues(t, 13, errno)
}

func TestProcessStateFinalUnsetIsNotReported(t *testing.T) {
	var s processState
	failed, set := s.loadFinal()
	assert.False(t, failed)
	assert.False(t, set, "a final slot nothing ever wrote to must not be mistaken for a reported success")
}

func TestProcessStateFinalRoundTrip(t *testing.T) {
	var s processState
	s.storeFinal(nil)
	failed, set := s.loadFinal()
	assert.True(t, set)
	assert.False(t, failed)

	s.resetFinal()
	s.storeFinal(errors.New("boom"))
	failed, set = s.loadFinal()
	assert.True(t, set)
	assert.True(t, failed)
}

func TestStartErrWrapsChildStart(t *testing.T) {
	err := startErr("pingpong", stageCgroupEnter, int32(unix.EPERM))
	assert.ErrorIs(t, err, errs.ErrChildStart)
	assert.Contains(t, err.Error(), "pingpong")
	assert.Contains(t, err.Error(), "enter cgroup")
}

func TestErrnoOf(t *testing.T) {
	assert.EqualValues(t, unix.EPERM, errnoOf(unix.EPERM))
	assert.EqualValues(t, -1, errnoOf(errors.New("not a syscall error")))
}
