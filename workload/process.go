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

// Package workload implements spec.md's C7 (workload process) and C8
// (context & barrier): a cgroup-bound, SCHED_EXT-scheduled child process
// that rendezvous with its siblings before running a user closure, and the
// Context that owns the shared arena, starts and stops every registered
// workload together, and exposes the running flag each workload's loop
// polls to know when to stop. Grounded on
// original_source/src/workloads/process.cpp and context.cpp.
package workload

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/schedtest/schedtest/internal/cgroup"
	"github.com/schedtest/schedtest/internal/errs"
	"github.com/schedtest/schedtest/internal/proc"
	"github.com/schedtest/schedtest/internal/schedext"
)

// DefaultPriority is the SCHED_EXT priority a workload process is given
// when its caller has no stronger opinion; sched_ext schedulers are free
// to ignore it entirely, so 0 (no particular priority) is the only
// defensible default.
const DefaultPriority int32 = 0

// Process is a cgroup-scoped, SCHED_EXT-scheduled child process running a
// single closure, composing C5 (cgroup.Scope) and C6 (proc.Child). Its
// rendezvous and result-passing state lives in processState, which alone
// is arena-allocated; see state.go for why Process itself is not.
type Process struct {
	name     string
	priority int32
	fn       func() error

	cgroup *cgroup.Scope
	child  *proc.Child
	state  *processState
}

// start runs Process.start() from spec.md §4.7: lazily acquire a cgroup,
// fork a child that enters it, opts into SCHED_EXT, signals readiness, then
// runs fn; the parent blocks on the start semaphore and returns the
// first-stage result.
func (p *Process) start() error {
	if p.cgroup == nil {
		scope, err := cgroup.Create(p.name)
		if err != nil {
			return fmt.Errorf("workload: %s: create cgroup: %w", p.name, err)
		}
		p.cgroup = scope
	}

	child, err := proc.Run(p.runChild, 0)
	if err != nil {
		return fmt.Errorf("workload: %s: %w", p.name, err)
	}
	p.child = child

	p.state.start.Consume(1, 0)
	st, errno, failed := p.state.loadStart()
	p.state.resetStart()
	if failed {
		return startErr(p.name, st, errno)
	}
	return nil
}

// runChild is the forked child's entire body. Per proc.Run's contract it
// must stick to async-signal-safe, single-threaded work: no new
// goroutines, nothing that assumes another OS thread is scheduling.
func (p *Process) runChild() {
	setProcessName(p.name)

	if err := p.cgroup.Enter(os.Getpid()); err != nil {
		p.state.storeStart(stageCgroupEnter, errnoOf(err))
		p.state.start.Produce(1, 1)
		return
	}

	if err := schedext.SetScheduler(os.Getpid(), p.priority); err != nil {
		p.state.storeStart(stageSchedExt, errnoOf(err))
		p.state.start.Produce(1, 1)
		return
	}

	p.state.storeStart(stageNone, 0)
	p.state.start.Produce(1, 1)

	p.state.storeFinal(p.fn())
}

// Reaped reports whether this process has no live child left to wait on:
// either it was never started, or join has already run. Exposed so callers
// (and tests) can confirm a failed Start left no zombie behind, per spec.md
// §8 scenario 5's "no child remains."
func (p *Process) Reaped() bool { return p.child == nil }

// join runs Process.join() from spec.md §4.7: wait for the child to exit,
// then surface final_result if the child reported one; a child that never
// reported one (killed, crashed, or stopped before running fn) produces no
// final result and is reported as an opaque ErrChildRuntime failure.
func (p *Process) join() error {
	if p.child == nil {
		return nil
	}
	_ = p.child.Close()
	p.child = nil

	failed, set := p.state.loadFinal()
	p.state.resetFinal()
	if !set {
		return fmt.Errorf("%w: %s: no final result reported", errs.ErrChildRuntime, p.name)
	}
	if failed {
		return fmt.Errorf("%w: %s", errs.ErrChildRuntime, p.name)
	}
	return nil
}

// setProcessName applies PR_SET_NAME, truncating to the kernel's 15
// visible bytes (plus NUL) if necessary. Best-effort: a naming failure
// does not block startup.
func setProcessName(name string) {
	if name == "" {
		return
	}
	if len(name) > 15 {
		name = name[:15]
	}
	var buf [16]byte
	copy(buf[:], name)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}

func errnoOf(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return -1
}
