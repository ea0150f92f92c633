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
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedtest/schedtest/internal/arena"
	"github.com/schedtest/schedtest/internal/cgroup"
)

// requireWorkloadHost skips the end-to-end tests below on hosts where a
// cgroup scope cannot be created (no cgroup v2, or no write access to
// it), a host capability this package cannot work around, exactly like
// internal/cgroup's own TestCreateRequiresCgroupfs skip. A kernel without
// SCHED_EXT is not probed here; TestContextStartStopRunsEveryWorkload
// skips on its own when Start fails.
func requireWorkloadHost(t *testing.T) {
	t.Helper()
	scope, err := cgroup.Create("schedtest-workload-probe")
	if err != nil {
		t.Skipf("cgroup/clone unavailable in this sandbox: %v", err)
	}
	scope.Close()
}

func TestContextStartStopRunsEveryWorkload(t *testing.T) {
	requireWorkloadHost(t)

	ctx, err := NewContext(1 << 20)
	require.NoError(t, err)
	defer ctx.Close()

	// ticks lives in the arena: the workload body runs in a forked child,
	// so a Go heap variable would only ever be incremented in the child's
	// private copy.
	ticks, err := arena.Allocate(ctx.Arena(), func(*int64) {})
	require.NoError(t, err)
	_, err = ctx.Add("spin", DefaultPriority, func() error {
		for ctx.Running() {
			atomic.AddInt64(ticks, 1)
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	if err := ctx.Start(); err != nil {
		t.Skipf("host cannot actually run a SCHED_EXT workload: %v", err)
	}
	assert.True(t, ctx.Running())
	time.Sleep(20 * time.Millisecond)
	failures := ctx.Stop()
	assert.Empty(t, failures)
	assert.False(t, ctx.Running())
	assert.Greater(t, atomic.LoadInt64(ticks), int64(0))
}

// TestContextStartUnwindsOnPartialFailure forces the second of two
// registered workloads to fail at the cgroup-enter stage deterministically
// (by pre-assigning it a cgroup scope whose directory has already been
// removed), independent of whatever the host's sched_ext support looks
// like, and checks that Start unwinds the first workload rather than
// leaving it running.
func TestContextStartUnwindsOnPartialFailure(t *testing.T) {
	requireWorkloadHost(t)

	ctx, err := NewContext(1 << 20)
	require.NoError(t, err)
	defer ctx.Close()

	first, err := ctx.Add("first", DefaultPriority, func() error {
		for ctx.Running() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	second, err := ctx.Add("second", DefaultPriority, func() error { return nil })
	require.NoError(t, err)

	poisoned, err := cgroup.Create("schedtest-poison")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(poisoned.Path()))
	second.cgroup = poisoned

	err = ctx.Start()
	if err == nil {
		t.Skip("host accepted the poisoned cgroup scope somehow; nothing to unwind")
	}
	assert.False(t, ctx.Running())
	assert.Nil(t, first.child, "the first workload must have been joined during unwind")
	assert.Nil(t, second.child)
}
