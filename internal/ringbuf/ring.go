/*
 * Copyright 2024 CloudWeGo Authors
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

// Package ringbuf is a small, GC-friendly fixed-capacity ring, used by
// this harness wherever a process-local component needs a flat, one-shot
// allocated collection of known size that it walks and mutates in place
// (quantile.Histogram's buckets is the current user). It is not the
// cross-process Sampler ring in internal/xsync — that one lives in the
// shared arena and is indexed by raw atomics; this one is plain heap
// memory local to a single process.
package ringbuf

// Ring holds a fixed number of items backed by one allocation; it cannot
// grow or shrink, but items may be read and mutated in place.
type Ring[V any] struct {
	items []Item[V]
}

// Item is a single slot in a Ring.
type Item[V any] struct {
	value V
	idx   int
}

// NewFromSlice builds a Ring pre-populated from vv, one item per element.
func NewFromSlice[V any](vv []V) *Ring[V] {
	r := &Ring[V]{}
	r.items = make([]Item[V], len(vv))
	for i := 0; i < len(vv); i++ {
		r.items[i].value = vv[i]
		r.items[i].idx = i
	}
	return r
}

// Head returns the first item, or nil if the ring is empty.
func (r *Ring[V]) Head() *Item[V] {
	if len(r.items) == 0 {
		return nil
	}
	return &r.items[0]
}

// Get returns the ith item.
func (r *Ring[V]) Get(i int) (*Item[V], bool) {
	if i < 0 || i >= len(r.items) {
		return nil, false
	}
	return &r.items[i], true
}

// Next returns the item following the ith one, wrapping to the head.
func (r *Ring[V]) Next(i int) (*Item[V], bool) {
	if i < 0 || i >= len(r.items) {
		return nil, false
	}
	if i == len(r.items)-1 {
		return &r.items[0], true
	}
	return &r.items[i+1], true
}

// Prev returns the item preceding the ith one, wrapping to the tail.
func (r *Ring[V]) Prev(i int) (*Item[V], bool) {
	if i < 0 || i >= len(r.items) {
		return nil, false
	}
	if i == 0 {
		return &r.items[len(r.items)-1], true
	}
	return &r.items[i-1], true
}

// Move returns the item n steps from the ith one, wrapping around.
func (r *Ring[V]) Move(i, n int) (*Item[V], bool) {
	if i < 0 || i >= len(r.items) {
		return nil, false
	}
	var idx int
	if n >= 0 {
		idx = (i + n) % len(r.items)
	} else {
		idx = len(r.items) + (i+n)%len(r.items)
	}
	return &r.items[idx], true
}

// Do calls f on every item, in forward order.
func (r *Ring[V]) Do(f func(v *V)) {
	for i := 0; i < len(r.items); i++ {
		f(&r.items[i].value)
	}
}

// Len returns the number of items in the ring.
func (r *Ring[V]) Len() int {
	return len(r.items)
}

// Index returns the item's slot index.
func (it *Item[V]) Index() int {
	return it.idx
}

// Value returns a copy of the item's value.
func (it *Item[V]) Value() V {
	return it.value
}

// Pointer returns a pointer to the item's value, for in-place mutation.
// Do not retain the pointer past the Ring's lifetime.
func (it *Item[V]) Pointer() *V {
	return &it.value
}
