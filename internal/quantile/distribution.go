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

// Package quantile implements a streaming quantile summary and the
// similarity metrics the convergence driver uses to decide whether two
// successive measurements of a workload agree.
//
// Distribution is process-local: it is filled by draining an
// xsync.Sampler's ring between trials (when no producer/consumer can race
// the flush), not shared across fork, so it is free to grow a plain heap
// slice rather than live in the arena.
package quantile

import (
	"math"
	"sort"
)

// Probes are the fixed quantile points every Estimates summary reports,
// matching the probe set spec.md fixes for the similarity metrics below.
var Probes = [...]float64{0.001, 0.01, 0.1, 0.5, 0.9, 0.99, 0.999}

// QuantilePoint pairs a probe quantile with its estimated value.
type QuantilePoint struct {
	Quantile float64
	Value    float64
}

// Estimates is a quantile-based summary of a Distribution at a fixed set
// of probe points, plus the sample count that produced it.
type Estimates struct {
	Count  int64
	Points []QuantilePoint
}

// Min returns the smallest estimated value across all probes.
func (e Estimates) Min() float64 {
	m := math.Inf(1)
	for _, p := range e.Points {
		if p.Value < m {
			m = p.Value
		}
	}
	return m
}

// Max returns the largest estimated value across all probes.
func (e Estimates) Max() float64 {
	m := math.Inf(-1)
	for _, p := range e.Points {
		if p.Value > m {
			m = p.Value
		}
	}
	return m
}

// at returns the estimated value at the given probe quantile, interpolating
// between the two bracketing probes when q doesn't land exactly on one
// (used internally by similarity, which wants uniform access to a probe
// set that may not be exactly Probes, e.g. the p16/p50/p84 triple).
func (e Estimates) at(q float64) float64 {
	for _, p := range e.Points {
		if p.Quantile == q {
			return p.Value
		}
	}
	// Fall back to linear interpolation across the recorded points.
	if len(e.Points) == 0 {
		return 0
	}
	if q <= e.Points[0].Quantile {
		return e.Points[0].Value
	}
	last := e.Points[len(e.Points)-1]
	if q >= last.Quantile {
		return last.Value
	}
	for i := 1; i < len(e.Points); i++ {
		lo, hi := e.Points[i-1], e.Points[i]
		if q >= lo.Quantile && q <= hi.Quantile {
			frac := (q - lo.Quantile) / (hi.Quantile - lo.Quantile)
			return lo.Value + frac*(hi.Value-lo.Value)
		}
	}
	return last.Value
}

// Distribution is a streaming quantile estimator over float64 samples. It
// keeps every sample (sorting lazily on read) rather than a true t-digest,
// which is adequate at the sample counts this harness deals with
// (spec.md's default sampler capacity is 64K per flush) — see DESIGN.md for
// why no compressed-digest library from the example pack was adopted here.
type Distribution struct {
	values []float64
	sorted bool
}

// NewDistribution returns an empty Distribution, pre-sizing its backing
// slice so repeated Sample calls during a trial don't reallocate.
func NewDistribution(capacityHint int) *Distribution {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Distribution{values: make([]float64, 0, capacityHint)}
}

// Sample adds a single value to the distribution.
func (d *Distribution) Sample(v float64) {
	d.values = append(d.values, v)
	d.sorted = false
}

// Reset clears the distribution for reuse across trials.
func (d *Distribution) Reset() {
	d.values = d.values[:0]
	d.sorted = false
}

// Len reports how many samples have been recorded.
func (d *Distribution) Len() int { return len(d.values) }

func (d *Distribution) ensureSorted() {
	if d.sorted {
		return
	}
	sort.Float64s(d.values)
	d.sorted = true
}

func (d *Distribution) quantile(q float64) float64 {
	if len(d.values) == 0 {
		return 0
	}
	d.ensureSorted()
	idx := int(q * float64(len(d.values)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.values) {
		idx = len(d.values) - 1
	}
	return d.values[idx]
}

// Estimates produces the fixed-probe summary for this distribution.
func (d *Distribution) Estimates() Estimates {
	return d.estimatesAt(Probes[:])
}

func (d *Distribution) estimatesAt(probes []float64) Estimates {
	points := make([]QuantilePoint, len(probes))
	for i, q := range probes {
		points[i] = QuantilePoint{Quantile: q, Value: d.quantile(q)}
	}
	return Estimates{Count: int64(len(d.values)), Points: points}
}

// weights returns the midpoint-rule weight of each probe along the
// quantile axis [0, 1]: interior probes get the distance to the midpoint
// of their neighbors, and the first/last probes get half-widths out to
// the 0/1 boundaries (spec.md §4.4).
func weights(probes []float64) []float64 {
	w := make([]float64, len(probes))
	if len(probes) == 0 {
		return w
	}
	if len(probes) == 1 {
		w[0] = 1
		return w
	}
	for i, q := range probes {
		var lo, hi float64
		if i == 0 {
			lo = 0
		} else {
			lo = (probes[i-1] + q) / 2
		}
		if i == len(probes)-1 {
			hi = 1
		} else {
			hi = (q + probes[i+1]) / 2
		}
		w[i] = hi - lo
	}
	return w
}

// Similarity is the primary, Kolmogorov-Smirnov-style quantile-distance
// metric (spec.md §4.4, §9's canonical choice among the source's two
// competing metrics): a weighted sum of absolute per-probe value
// differences, normalized by the combined range of both distributions.
// It returns 1 for identical inputs, decreasing monotonically as the two
// summaries diverge. a and b must report the same probe set.
func Similarity(a, b Estimates) float64 {
	if len(a.Points) != len(b.Points) || len(a.Points) == 0 {
		return 0
	}
	probes := make([]float64, len(a.Points))
	for i, p := range a.Points {
		probes[i] = p.Quantile
		if b.Points[i].Quantile != p.Quantile {
			return 0
		}
	}
	w := weights(probes)

	rangeMax := math.Max(a.Max(), b.Max())
	rangeMin := math.Min(a.Min(), b.Min())
	span := rangeMax - rangeMin
	if span <= 0 {
		return 1
	}

	var distance float64
	for i := range a.Points {
		distance += w[i] * math.Abs(a.Points[i].Value-b.Points[i].Value)
	}
	distance /= span

	similarity := 1 - distance
	if similarity < 0 {
		similarity = 0
	}
	return similarity
}

// intervalProbes are the p16/p50/p84 triple used by
// IntervalOverlapSimilarity as a mean/standard-deviation proxy, matching
// original_source/src/util/stats.cpp's similar().
var intervalProbes = [...]float64{0.16, 0.50, 0.84}

// IntervalOverlapSimilarity is the secondary diagnostic metric (spec.md
// §4.4, §9): it centers each distribution on its p50 and uses the
// p16-p84 spread as a standard-deviation proxy, builds a normal-ish
// confidence interval around each center (via the inverse-normal z-score
// approximation below), and returns 1 when each center lies inside the
// other's interval, 0 otherwise.
//
// Unlike Similarity, this is a step function rather than a graded score:
// it does not decrease gradually as the distributions move apart, but it
// agrees with Similarity's identity property: IntervalOverlapSimilarity(d, d) == 1.
func IntervalOverlapSimilarity(a, b Estimates) float64 {
	const confidence = 0.95
	ea := a.estimatesAtTriple()
	eb := b.estimatesAtTriple()

	meanA := ea[1]
	meanB := eb[1]
	stdDevA := (ea[2] - ea[0]) / 2.0
	stdDevB := (eb[2] - eb[0]) / 2.0

	if a.Count <= 1 || b.Count <= 1 {
		if meanA == meanB {
			return 1
		}
		return 0
	}

	stdErrA := stdDevA / math.Log(float64(a.Count))
	stdErrB := stdDevB / math.Log(float64(b.Count))
	thresh := zscore(confidence)

	// Bug note (spec.md §9): an earlier revision of the source computed
	// `mean_diff = std::abs(mean_a = -mean_b)` — an assignment where a
	// subtraction was intended, silently comparing mean_a to its own
	// negation instead of to mean_b. That bug is deliberately not
	// reproduced here; the overlap check below compares meanA and meanB
	// directly, both ways.
	if meanA+thresh*stdErrA >= meanB &&
		meanA-thresh*stdErrA <= meanB &&
		meanB+thresh*stdErrB >= meanA &&
		meanB-thresh*stdErrB <= meanA {
		return 1
	}
	return 0
}

func (e Estimates) estimatesAtTriple() [3]float64 {
	var out [3]float64
	for i, q := range intervalProbes {
		out[i] = e.at(q)
	}
	return out
}

// zscore approximates the inverse standard-normal CDF for p > 0.5 via the
// Abramowitz & Stegun rational approximation (formula 26.2.23), matching
// original_source/src/util/stats.cpp's zscore().
func zscore(p float64) float64 {
	t := math.Sqrt(-2.0 * math.Log(1-p))
	c := [3]float64{2.515517, 0.802853, 0.010328}
	d := [3]float64{1.432788, 0.189269, 0.001308}
	return t - ((c[2]*t+c[1])*t+c[0])/(((d[2]*t+d[1])*t+d[0])*t+1.0)
}
