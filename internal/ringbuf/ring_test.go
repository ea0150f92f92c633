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

package ringbuf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ringItem struct {
	value int
}

func newRandomValue(n int) []int {
	vs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		vs = append(vs, rand.Intn(n))
	}
	return vs
}

func newRingItemSlice(vs []int) []ringItem {
	items := make([]ringItem, 0, len(vs))
	for i := 0; i < len(vs); i++ {
		items = append(items, ringItem{value: vs[i]})
	}
	return items
}

func TestRing(t *testing.T) {
	n := 100
	vs := newRandomValue(n)

	r := NewFromSlice(newRingItemSlice(vs))
	for i := 0; i < n; i++ {
		it, ok := r.Get(i)
		assert.True(t, ok)
		assert.Equal(t, vs[i], it.Value().value)
		assert.Equal(t, vs[i], it.Pointer().value)
	}

	curr := r.Head()
	h, _ := r.Get(0)
	assert.Equal(t, curr, h)
	for i := 0; i < n; i++ {
		next, ok := r.Next(curr.Index())
		assert.True(t, ok)
		curr = next
	}
	assert.Equal(t, curr, h)
	_, ok := r.Next(n + 1)
	assert.False(t, ok)

	for i := 0; i < n; i++ {
		prev, ok := r.Prev(curr.Index())
		assert.True(t, ok)
		curr = prev
	}
	assert.Equal(t, curr, h)
	_, ok = r.Prev(n + 1)
	assert.False(t, ok)

	var expectedTotal, actualTotal int
	r.Do(func(v *ringItem) { actualTotal += v.value })
	for i := 0; i < n; i++ {
		expectedTotal += vs[i]
	}
	assert.Equal(t, expectedTotal, actualTotal)

	for i := 0; i < n; i++ {
		it, ok := r.Get(i)
		assert.True(t, ok)
		it.Pointer().value = i
		assert.Equal(t, i, it.Value().value)
	}
}

func TestMove(t *testing.T) {
	n := 100
	vs := newRandomValue(n)
	r := NewFromSlice(newRingItemSlice(vs))

	realNext, _ := r.Move(98, 2)
	expectedNext, _ := r.Get(0)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(98, n+1)
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(1, -2)
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(1, -(2 + n))
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)
}
