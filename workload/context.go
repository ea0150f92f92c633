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

	"github.com/schedtest/schedtest/internal/arena"
	"github.com/schedtest/schedtest/internal/xsync"
)

// Context owns the arena (C1), the registered workload processes, and the
// two-semaphore start barrier described in spec.md §4.8. running, waitSem,
// and startSem are all arena-allocated because workload children, not just
// the orchestrating process, read and signal them across the fork
// boundary.
type Context struct {
	arena    *arena.Arena
	running  *uint32
	waitSem  *xsync.Semaphore
	startSem *xsync.Semaphore

	procs []*Process
}

// NewContext creates a Context backed by a fresh arena of the given size
// (0 meaning arena.DefaultSize).
func NewContext(size int) (*Context, error) {
	a, err := arena.New(size)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}

	running, err := arena.Allocate(a, func(*uint32) {})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("workload: allocate running flag: %w", err)
	}
	waitSem, err := arena.Allocate(a, func(s *xsync.Semaphore) { xsync.NewSemaphore(s, 0) })
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("workload: allocate wait semaphore: %w", err)
	}
	startSem, err := arena.Allocate(a, func(s *xsync.Semaphore) { xsync.NewSemaphore(s, 0) })
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("workload: allocate start semaphore: %w", err)
	}

	return &Context{arena: a, running: running, waitSem: waitSem, startSem: startSem}, nil
}

// Arena exposes the underlying arena so callers can allocate their own
// cross-process state (C2 semaphores, per-workload counters) alongside a
// workload's closures, exactly as spec.md §4.1 describes test setup doing.
func (c *Context) Arena() *arena.Arena { return c.arena }

// Add registers a new workload process named name at the given SCHED_EXT
// priority, wrapping fn so it does not run until every sibling registered
// so far has also reached the start barrier — spec.md §4.8's add(fn):
// "allocate a workload process whose body is { barrier_wait(); fn() }".
func (c *Context) Add(name string, priority int32, fn func() error) (*Process, error) {
	state, err := arena.Allocate(c.arena, initProcessState)
	if err != nil {
		return nil, fmt.Errorf("workload: allocate process state: %w", err)
	}

	wrapped := func() error {
		c.barrierWait()
		return fn()
	}

	p := &Process{name: name, priority: priority, fn: wrapped, state: state}
	c.procs = append(c.procs, p)
	return p, nil
}

// barrierWait is the callback every registered workload's body calls
// before fn(): signal readiness on waitSem, then block on startSem until
// Start's broadcast releases it.
func (c *Context) barrierWait() {
	c.waitSem.Produce(1, 1)
	c.startSem.Consume(1, 0)
}

// Start runs Context::start() from spec.md §4.8: flip running, start every
// process in order, and on the k-th failure unwind the k already-started
// ones by releasing them through the barrier and joining them, plus the
// k-th process itself (which never reached the barrier but may already have
// forked a child that must be reaped), before returning the error. On full success,
// release all N processes from the barrier with a single broadcast wake.
func (c *Context) Start() error {
	atomic.StoreUint32(c.running, 1)

	for i, p := range c.procs {
		if err := p.start(); err != nil {
			atomic.StoreUint32(c.running, 0)
			if i != 0 {
				n := uint32(i)
				c.waitSem.Consume(n, 0)
				c.startSem.Produce(n, n)
				for j := 0; j < i; j++ {
					_ = c.procs[j].join()
				}
			}
			// p may already have forked a child (start() can fail after
			// proc.Run succeeded); that child never reaches the barrier, so
			// it needs no barrier release, but it still must be reaped.
			// join is a no-op when start() failed before forking.
			_ = p.join()
			return err
		}
	}

	n := uint32(len(c.procs))
	if n > 0 {
		c.waitSem.Consume(n, 0)
		c.startSem.Produce(n, n)
	}
	return nil
}

// Stop runs Context::stop(): if running was true, flip it false and join
// every process, returning any runtime failures the joins reported. It
// returns nil without joining anything when running was already false.
func (c *Context) Stop() []error {
	if !atomic.CompareAndSwapUint32(c.running, 1, 0) {
		return nil
	}
	var errsOut []error
	for _, p := range c.procs {
		if err := p.join(); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}

// Running reports the shared running flag, the termination check every
// workload loop polls.
func (c *Context) Running() bool { return atomic.LoadUint32(c.running) != 0 }

// Close stops every process if still running, then releases the arena.
// It is safe to call Close more than once.
func (c *Context) Close() error {
	c.Stop()
	return c.arena.Close()
}
