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

// Package xsync provides cross-process, lock-free synchronization
// primitives that live in shared (arena) memory: a counting Semaphore with
// broadcast wake and built-in wake-latency sampling, and the WakeTimer and
// Sampler it is built on.
//
// Everything in this package is arena-safe: plain atomics over fixed-size
// fields, no pointers outside the containing struct, no destructors.
package xsync

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/schedtest/schedtest/internal/quantile"
)

// Distribution aliases quantile.Distribution so callers of this package's
// Flush don't need a second import for the common case of draining a
// Semaphore's wake-latency sampler.
type Distribution = quantile.Distribution

const (
	// consumerWaiter and producerWaiter are sentinel bits packed into the
	// semaphore word, set only while at least one party is (or was, very
	// recently) blocked in the corresponding wait path.
	consumerWaiter uint32 = 1 << 31
	producerWaiter uint32 = 1 << 30
	countMask      uint32 = consumerWaiter | producerWaiter

	// DefaultMax mirrors the source's implicit int32 ceiling for amounts
	// packed into the low 30 bits alongside the two waiter flags.
	DefaultMax uint32 = 1<<30 - 1
)

// Semaphore is a 32-bit atomic counting semaphore safe across address
// spaces (it is meant to be allocated inside an arena.Arena and shared by
// fork children): amount in the low 30 bits, consumer-waiter flag at bit
// 31, producer-waiter flag at bit 30. Every successful transition that finds
// the counterparty's waiter flag set resets the embedded WakeTimer before
// waking, and the awakened party feeds the resulting wake-to-run latency
// into a Sampler, so a Semaphore doubles as the wake-latency instrument described
// in spec.md C2/C3.
type Semaphore struct {
	word  uint32
	max   uint32
	timer WakeTimer
	samp  Sampler
}

// NewSemaphore initializes sem in place for use from shared memory. max
// defaults to DefaultMax when zero.
func NewSemaphore(sem *Semaphore, max uint32) {
	if max == 0 {
		max = DefaultMax
	}
	sem.word = 0
	sem.max = max
}

// Max returns the configured maximum amount.
func (s *Semaphore) Max() uint32 { return s.max }

// Reset stores 0 to the semaphore word. It must only be called when no
// party can be concurrently producing or consuming.
func (s *Semaphore) Reset() { atomic.StoreUint32(&s.word, 0) }

// Flush drains the wake-latency sampler into dist. It must only be called
// when no producer/consumer can race the flush (per spec.md's concurrency
// model: typically between Context.Stop and the next Context.Start).
func (s *Semaphore) Flush(dist *Distribution) { s.samp.Flush(dist) }

// Consume blocks until at least v units are available, then atomically
// removes them. wake controls how many producers are woken (via a futex
// broadcast) once removal succeeds and there was a producer waiting.
func (s *Semaphore) Consume(v uint32, wake uint32) {
	cur := atomic.LoadUint32(&s.word)
	for {
		amount := cur &^ countMask
		if amount >= v {
			hasWaiter := cur&producerWaiter != 0
			if atomic.CompareAndSwapUint32(&s.word, cur, amount-v) {
				if hasWaiter {
					s.timer.Reset()
					futexWake(&s.word, wake)
				}
				return
			}
			cur = atomic.LoadUint32(&s.word)
			continue
		}

		hasWaiter := cur&consumerWaiter != 0
		if !hasWaiter {
			if !atomic.CompareAndSwapUint32(&s.word, cur, cur|consumerWaiter) {
				cur = atomic.LoadUint32(&s.word)
				continue
			}
			cur |= consumerWaiter
		}

		cookie := s.timer.Cookie()
		slept := futexWait(&s.word, cur)
		if slept {
			if elapsed, ok := s.timer.Elapsed(cookie); ok {
				s.samp.Sample(elapsed.Seconds())
			}
		}
		cur = atomic.LoadUint32(&s.word)
	}
}

// Produce atomically adds v units, waking up to wake blocked consumers
// (via futex broadcast) if removal headroom had a consumer waiting.
// Produce blocks (waiting for consumers to make room) only if v would
// exceed the configured maximum.
func (s *Semaphore) Produce(v uint32, wake uint32) {
	cur := atomic.LoadUint32(&s.word)
	for {
		amount := cur &^ countMask
		if amount+v <= s.max {
			hasWaiter := cur&consumerWaiter != 0
			if atomic.CompareAndSwapUint32(&s.word, cur, amount+v) {
				if hasWaiter {
					s.timer.Reset()
					futexWake(&s.word, wake)
				}
				return
			}
			cur = atomic.LoadUint32(&s.word)
			continue
		}

		hasWaiter := cur&producerWaiter != 0
		if !hasWaiter {
			if !atomic.CompareAndSwapUint32(&s.word, cur, cur|producerWaiter) {
				cur = atomic.LoadUint32(&s.word)
				continue
			}
			cur |= producerWaiter
		}

		cookie := s.timer.Cookie()
		slept := futexWait(&s.word, cur)
		if slept {
			if elapsed, ok := s.timer.Elapsed(cookie); ok {
				s.samp.Sample(elapsed.Seconds())
			}
		}
		cur = atomic.LoadUint32(&s.word)
	}
}

// futexWait blocks the calling thread while *addr == expect, exactly like
// the classic futex protocol: the kernel re-checks the word atomically
// before sleeping, so a concurrent writer that already changed it can never
// be missed. Returns true if the thread actually slept (as opposed to the
// kernel observing a stale expect and returning immediately with EAGAIN).
func futexWait(addr *uint32, expect uint32) bool {
	for {
		_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWaitOp, uintptr(expect), 0, 0, 0)
		switch errno {
		case 0:
			return true
		case unix.EAGAIN:
			return false
		case unix.EINTR:
			continue
		default:
			// Any other errno indicates the address was invalid or the
			// call was malformed, which is a programming bug: the address
			// is always valid arena memory.
			panic("xsync: futex wait failed: " + errno.Error())
		}
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n uint32) {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
	if errno != 0 && errno != unix.EAGAIN {
		panic("xsync: futex wake failed: " + errno.Error())
	}
}

const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)
