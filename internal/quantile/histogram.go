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

package quantile

import (
	"fmt"
	"math"
	"strings"

	"github.com/schedtest/schedtest/internal/ringbuf"
)

// Histogram is a human-readable diagnostic view over a Distribution's
// samples: a fixed set of buckets spanning [min, max], each holding a
// sample count. It supplements spec.md §4.4, which specifies only the
// summary and similarity computation, with the pretty-printer
// original_source/src/util/stats.h's Histogram<T,B> provides for a human
// running the CLI with -v.
//
// Buckets are stored in a ringbuf.Ring, the same generic bucket container
// the teacher uses elsewhere for fixed-capacity, GC-friendly collections
// (see concurrency/gopool's sibling container/ring in the teacher repo);
// here it holds plain int64 counts rather than workload state, walked
// once per render via Do.
type Histogram struct {
	lo, hi float64
	counts *ringbuf.Ring[int64]
}

// NewHistogram builds a Histogram with the given number of buckets over
// d's current [min, max] range.
func NewHistogram(d *Distribution, buckets int) *Histogram {
	if buckets <= 0 {
		buckets = 20
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range d.values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 1
	}
	if hi <= lo {
		hi = lo + 1
	}

	zeros := make([]int64, buckets)
	h := &Histogram{lo: lo, hi: hi, counts: ringbuf.NewFromSlice(zeros)}
	width := (hi - lo) / float64(buckets)
	for _, v := range d.values {
		idx := int((v - lo) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		item, _ := h.counts.Get(idx)
		*item.Pointer()++
	}
	return h
}

// String renders the histogram as a fixed-width ASCII bar chart, one
// line per bucket.
func (h *Histogram) String() string {
	var max int64
	h.counts.Do(func(v *int64) {
		if *v > max {
			max = *v
		}
	})
	if max == 0 {
		max = 1
	}

	const barWidth = 40
	width := (h.hi - h.lo) / float64(h.counts.Len())
	var b strings.Builder
	for i := 0; i < h.counts.Len(); i++ {
		item, _ := h.counts.Get(i)
		count := item.Value()
		bar := int(float64(count) / float64(max) * barWidth)
		lo := h.lo + float64(i)*width
		hi := lo + width
		fmt.Fprintf(&b, "[%10.3g, %10.3g) %s %d\n", lo, hi, strings.Repeat("#", bar), count)
	}
	return b.String()
}
