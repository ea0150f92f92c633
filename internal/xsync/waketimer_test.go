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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedtest/schedtest/internal/quantile"
)

// TestWakeTimerCookieLifecycle exercises spec.md §4.3's cookie protocol: a
// cookie taken before any reset reads back nothing; the very next reset
// stamps that cookie's slot and Elapsed reads it back; once the ring has
// advanced by wakeTimerSize further resets, the original cookie is lost.
func TestWakeTimerCookieLifecycle(t *testing.T) {
	var wt WakeTimer

	cookie := wt.Cookie()
	_, ok := wt.Elapsed(cookie)
	assert.False(t, ok, "no reset has happened yet: reading must fail")

	wt.Reset()
	elapsed, ok := wt.Elapsed(cookie)
	require.True(t, ok, "the reset immediately following Cookie must be readable")
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))

	for i := 0; i < wakeTimerSize; i++ {
		wt.Reset()
	}
	_, ok = wt.Elapsed(cookie)
	assert.False(t, ok, "cookie must be lost once wakeTimerSize unrelated resets have landed")
}

// TestWakeTimerDistinctCookiesDistinctSlots confirms two cookies taken
// before two distinct resets each read back their own reset's timestamp,
// not a later unrelated one (spec.md §9 "Cookie-stamped timer").
func TestWakeTimerDistinctCookiesDistinctSlots(t *testing.T) {
	var wt WakeTimer

	c1 := wt.Cookie()
	wt.Reset()
	time.Sleep(5 * time.Millisecond)
	c2 := wt.Cookie()
	wt.Reset()

	e1, ok1 := wt.Elapsed(c1)
	require.True(t, ok1)
	e2, ok2 := wt.Elapsed(c2)
	require.True(t, ok2)

	// e1 measures from an earlier stamp than e2, so it must report a
	// larger elapsed duration.
	assert.Greater(t, e1, e2)
}

func TestSamplerFlushDrainsAndResets(t *testing.T) {
	var s Sampler
	for i := 0; i < 10; i++ {
		s.Sample(float64(i))
	}

	dist := quantile.NewDistribution(16)
	s.Flush(dist)
	assert.Equal(t, 10, dist.Len())

	dist2 := quantile.NewDistribution(16)
	s.Flush(dist2)
	assert.Equal(t, 0, dist2.Len(), "flush must reset the write index")
}

// TestSamplerConcurrentSampleIsSafe exercises Sample from many goroutines
// at once (the arena's real usage: many processes writing concurrently)
// and checks Flush drains exactly as many entries as were written (fewer
// than the ring's capacity, so none is overwritten) without losing any
// index increment.
func TestSamplerConcurrentSampleIsSafe(t *testing.T) {
	var s Sampler

	const writers = 32
	const perWriter = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(base int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				s.Sample(float64(base + j))
			}
		}(i * perWriter)
	}
	wg.Wait()

	dist := quantile.NewDistribution(writers * perWriter)
	s.Flush(dist)
	assert.Equal(t, writers*perWriter, dist.Len())

	dist2 := quantile.NewDistribution(1)
	s.Flush(dist2)
	assert.Equal(t, 0, dist2.Len())
}
