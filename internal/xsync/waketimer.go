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

package xsync

import (
	"sync/atomic"
	"time"
)

// wakeTimerSize is the small ring capacity for WakeTimer, matching
// spec.md's "e.g. 4"-sized example: large enough that a waiter reading its
// cookie right after a reset never has to contend with more than a
// handful of subsequent, unrelated resets before it loses its reading.
const wakeTimerSize = 4

// WakeTimer is a fixed-size, wait-free, cookie-stamped ring of
// timestamps. Reset stamps "now" at the next slot and advances a
// monotonic counter; a reader captures the counter as a cookie before it
// blocks and later asks for the elapsed time since that cookie's reset.
// If the counter has advanced by wakeTimerSize or more in the meantime,
// the reading is considered lost rather than misattributed to a later,
// unrelated transition (see spec.md §9, "Cookie-stamped timer").
//
// WakeTimer is arena-safe: plain fixed-size array plus one atomic
// counter, no pointers, no destructor.
type WakeTimer struct {
	counter uint64
	stamps  [wakeTimerSize]int64 // UnixNano, written by whichever process calls Reset
}

// Cookie returns the index the next call to Reset will use, to be paired
// with a later Elapsed call: a reader captures Cookie before it blocks, and
// the next Reset to run (typically the one that wakes it) stamps exactly
// that slot, so Elapsed can read it back by the same index rather than
// whatever slot happens to be newest when the reader gets around to asking
// (which could belong to a later, unrelated transition if the reader was
// slow to wake).
func (w *WakeTimer) Cookie() uint64 { return atomic.LoadUint64(&w.counter) }

// Reset stamps the current time into the slot Cookie last handed out, then
// advances the counter so the following Cookie call moves on to the next
// slot. Called by the producer/consumer that just performed a successful
// transition, before issuing the kernel wake, so that the first awakened
// party observes a timestamp no later than its own wakeup.
func (w *WakeTimer) Reset() {
	idx := atomic.AddUint64(&w.counter, 1) - 1
	atomic.StoreInt64(&w.stamps[idx%wakeTimerSize], time.Now().UnixNano())
}

// Elapsed returns the time since the reset identified by cookie, or false
// if no reset has happened since cookie was captured, or the ring has
// advanced far enough that the slot has since been overwritten by a later,
// unrelated reset. It reads stamps[cookie%wakeTimerSize] directly (the slot
// Reset wrote for that specific cookie), not whatever slot is newest —
// reading the newest slot would misattribute a later, unrelated transition's
// timestamp to this waiter whenever more than one reset has landed between
// the wake and this call.
func (w *WakeTimer) Elapsed(cookie uint64) (time.Duration, bool) {
	cur := atomic.LoadUint64(&w.counter)
	if cur <= cookie {
		return 0, false
	}
	if cur-cookie >= wakeTimerSize {
		return 0, false
	}
	stamp := atomic.LoadInt64(&w.stamps[cookie%wakeTimerSize])
	return time.Duration(time.Now().UnixNano() - stamp), true
}

// DefaultSamplerCapacity is the default number of retained latency
// samples per Sampler ring.
const DefaultSamplerCapacity = 64 * 1024

// Sampler is a fixed-capacity ring of float64 samples with a single
// atomic write index. The backing array is a fixed-size field (not a
// slice over separately-allocated memory), so a Sampler embedded inside
// an arena-allocated object such as Semaphore is itself arena-safe: every
// byte lives at the same stable, shared address in every process that
// maps the arena.
//
// Sample is safe to call concurrently from any number of processes
// sharing the arena; Flush must only be called when no Sample call can
// race it (spec.md's concurrency model: between Context.Stop and the
// next Context.Start).
//
// Loss model: once the ring fills, Sample overwrites the oldest entry, so
// under sustained oversampling the newest samples survive to the next
// flush.
type Sampler struct {
	idx     uint64
	samples [DefaultSamplerCapacity]float64
}

// Sample records v at the next ring slot.
func (s *Sampler) Sample(v float64) {
	next := atomic.AddUint64(&s.idx, 1) - 1
	s.samples[next%DefaultSamplerCapacity] = v
}

// Flush drains up to DefaultSamplerCapacity valid entries into dist and
// resets the write index to 0.
func (s *Sampler) Flush(dist *Distribution) {
	n := atomic.LoadUint64(&s.idx)
	count := n
	if count > DefaultSamplerCapacity {
		count = DefaultSamplerCapacity
	}
	for i := uint64(0); i < count; i++ {
		dist.Sample(s.samples[i])
	}
	atomic.StoreUint64(&s.idx, 0)
}
