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

// Package taskpool provides a bounded goroutine pool for the host
// process's own background work: concurrent per-CPU sysfs reads during
// topology enumeration, and running multiple independent scenarios from
// cmd/schedtest concurrently.
//
// This is deliberately scoped to host-side I/O-bound fan-out. Spec.md §5
// is explicit that workload bodies themselves run as OS threads under
// the kernel scheduler under test, not as goroutines over a cooperative
// runtime — nothing in workload/convergence ever schedules a closure
// through this pool.
package taskpool

import (
	"context"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Option configures a Pool.
type Option struct {
	// MaxIdleWorkers is the max idle workers kept around for waiting
	// tasks; they exit after WorkerMaxAge.
	MaxIdleWorkers int

	// WorkerMaxAge is the max age of a worker before it exits.
	WorkerMaxAge time.Duration

	// TaskChanBuffer is the size of the task queue. If it's full, Go
	// falls back to an unpooled goroutine rather than blocking the
	// caller.
	TaskChanBuffer int
}

// DefaultOption returns sane defaults, sized for the harness's own
// fan-out (a few dozen CPUs, a handful of scenarios), not production
// RPC-server concurrency.
func DefaultOption() *Option {
	return &Option{
		MaxIdleWorkers: 64,
		WorkerMaxAge:   30 * time.Second,
		TaskChanBuffer: 256,
	}
}

type task struct {
	ctx context.Context
	f   func()
}

// Pool manages a bounded set of goroutines draining a shared task queue.
type Pool struct {
	name string

	workers int32
	maxIdle int32
	maxage  int64 // milliseconds

	panicHandler func(ctx context.Context, r interface{})

	tasks     chan task
	unixMilli int64

	createWorker func()
}

// New creates a Pool; o defaults to DefaultOption() when nil.
func New(name string, o *Option) *Pool {
	if o == nil {
		o = DefaultOption()
	}
	p := &Pool{
		name:    name,
		tasks:   make(chan task, o.TaskChanBuffer),
		maxage:  o.WorkerMaxAge.Milliseconds(),
		maxIdle: int32(o.MaxIdleWorkers),
	}
	p.createWorker = func() { p.runWorker() }
	return p
}

// Go runs f in the background.
func (p *Pool) Go(f func()) {
	p.CtxGo(context.Background(), f)
}

// CtxGo runs f in the background, passing ctx through to the panic
// handler if f panics.
func (p *Pool) CtxGo(ctx context.Context, f func()) {
	select {
	case p.tasks <- task{ctx: ctx, f: f}:
	default:
		// Queue is full: don't make the caller wait on pool capacity.
		go p.runTask(ctx, f)
		return
	}
	if len(p.tasks) == 0 {
		return
	}
	go p.createWorker()
}

// SetPanicHandler overrides the default log.Printf-based panic handler.
func (p *Pool) SetPanicHandler(f func(ctx context.Context, r interface{})) {
	p.panicHandler = f
}

// CurrentWorkers reports the number of live workers.
func (p *Pool) CurrentWorkers() int {
	return int(atomic.LoadInt32(&p.workers))
}

func (p *Pool) runTask(ctx context.Context, f func()) {
	defer func(p *Pool, ctx context.Context) {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(ctx, r)
			} else {
				log.Printf("taskpool: panic in pool %s: %v: %s", p.name, r, debug.Stack())
			}
		}
	}(p, ctx)
	f()
}

func (p *Pool) runWorker() {
	id := atomic.AddInt32(&p.workers, 1)
	defer atomic.AddInt32(&p.workers, -1)

	if id > p.maxIdle {
		for {
			select {
			case t := <-p.tasks:
				p.runTask(t.ctx, t.f)
			default:
				return
			}
		}
	}

	createdAt := time.Now().UnixMilli()
	for t := range p.tasks {
		p.runTask(t.ctx, t.f)

		now := atomic.LoadInt64(&p.unixMilli)
		if now == 0 {
			now = time.Now().UnixMilli()
			if atomic.CompareAndSwapInt64(&p.unixMilli, 0, now) {
				go p.runTicker()
			}
		}
		if now-createdAt > p.maxage {
			return
		}
	}
}

var noopTask = task{f: func() {}}

func (p *Pool) runTicker() {
	defer atomic.StoreInt64(&p.unixMilli, 0)

	d := time.Duration(p.maxage) * time.Millisecond / 100
	if d < time.Millisecond {
		d = time.Millisecond
	}

	t := time.NewTicker(d)
	defer t.Stop()

	for now := range t.C {
		if p.CurrentWorkers() == 0 {
			return
		}
		atomic.StoreInt64(&p.unixMilli, now.UnixMilli())
		p.tasks <- noopTask
	}
}
