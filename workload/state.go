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
	"fmt"
	"sync/atomic"

	"github.com/schedtest/schedtest/internal/errs"
	"github.com/schedtest/schedtest/internal/xsync"
)

// slotState is the tri-state of a one-shot result slot: unset until the
// child writes it, then either ok or failed.
type slotState uint32

const (
	slotUnset slotState = iota
	slotOK
	slotFailed
)

// stage identifies which step of a child's startup produced a failure, so
// the parent can reconstruct a meaningful error from the plain integers
// that are all a result slot can carry across the fork boundary.
type stage int32

const (
	stageNone stage = iota
	stageCgroupEnter
	stageSchedExt
	stageUserFn
)

// processState is the arena-resident half of a Process: exactly the fields
// that must be visible to both the parent and the process's forked child,
// mirroring the same constraint that shapes xsync.WakeTimer and
// xsync.Sampler. A Process's closure, cgroup.Scope, and proc.Child are
// ordinary Go heap values instead: fork's copy-on-write semantics give the
// child a private, read-only-in-practice copy of them, which is all a
// child that writes its answer through processState and exits needs.
//
// Result payloads can't follow the original's Result<> and simply carry an
// arbitrary error value: Go's error interface and any string it wraps are
// GC-managed heap data, unsafe to reach via a plain byte mapping from a
// second address space. Each slot instead narrows to a stage plus a raw
// errno, and the parent re-synthesizes a descriptive error from those two
// integers. A workload's own fn() error is reported as opaque success/fail
// only, matching the "abnormal termination produces no final result, which
// the caller treats as an opaque failure" case the operation already calls
// out.
type processState struct {
	start xsync.Semaphore

	startState slotState
	startStage stage
	startErrno int32

	finalState slotState
}

func initProcessState(s *processState) {
	xsync.NewSemaphore(&s.start, 1)
}

func (s *processState) storeStart(st stage, errno int32) {
	atomic.StoreInt32((*int32)(&s.startStage), int32(st))
	atomic.StoreInt32(&s.startErrno, errno)
	if st == stageNone {
		atomic.StoreUint32((*uint32)(&s.startState), uint32(slotOK))
	} else {
		atomic.StoreUint32((*uint32)(&s.startState), uint32(slotFailed))
	}
}

func (s *processState) loadStart() (stage, int32, bool) {
	state := slotState(atomic.LoadUint32((*uint32)(&s.startState)))
	return stage(atomic.LoadInt32((*int32)(&s.startStage))), atomic.LoadInt32(&s.startErrno), state == slotFailed
}

func (s *processState) resetStart() {
	atomic.StoreUint32((*uint32)(&s.startState), uint32(slotUnset))
}

func (s *processState) storeFinal(err error) {
	if err == nil {
		atomic.StoreUint32((*uint32)(&s.finalState), uint32(slotOK))
		return
	}
	atomic.StoreUint32((*uint32)(&s.finalState), uint32(slotFailed))
}

// loadFinal reports whether a final result was ever written, and whether it
// was a failure. A child that never reaches storeFinal (killed, crashed,
// exited abnormally) leaves this unset, which join() reports as an opaque
// failure.
func (s *processState) loadFinal() (failed bool, set bool) {
	state := slotState(atomic.LoadUint32((*uint32)(&s.finalState)))
	return state == slotFailed, state != slotUnset
}

func (s *processState) resetFinal() {
	atomic.StoreUint32((*uint32)(&s.finalState), uint32(slotUnset))
}

func startErr(name string, st stage, errno int32) error {
	switch st {
	case stageCgroupEnter:
		return fmt.Errorf("%w: %s: enter cgroup: errno %d", errs.ErrChildStart, name, errno)
	case stageSchedExt:
		return fmt.Errorf("%w: %s: sched_setscheduler: errno %d", errs.ErrChildStart, name, errno)
	default:
		return fmt.Errorf("%w: %s: unknown failure", errs.ErrChildStart, name)
	}
}
