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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGaussianDistribution(n int, mean, stddev float64) *Distribution {
	d := NewDistribution(n)
	for i := 0; i < n; i++ {
		d.Sample(mean + stddev*rand.NormFloat64())
	}
	return d
}

func TestDistributionEstimatesProbes(t *testing.T) {
	d := newGaussianDistribution(1000, 0, 1)
	e := d.Estimates()
	require.Equal(t, len(Probes), len(e.Points))
	require.Equal(t, int64(1000), e.Count)
	for i, p := range e.Points {
		assert.Equal(t, Probes[i], p.Quantile)
	}
	// quantile estimates must be non-decreasing in the probe.
	for i := 1; i < len(e.Points); i++ {
		assert.GreaterOrEqual(t, e.Points[i].Value, e.Points[i-1].Value)
	}
}

func TestSimilarityIdentity(t *testing.T) {
	// spec.md §8: similarity(D, D) = 1, for any distribution shape.
	tests := []struct {
		name        string
		mean, sigma float64
	}{
		{"centered", 0, 1},
		{"shifted", 100, 5},
		{"narrow", 0, 0.01},
		{"wide", 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newGaussianDistribution(2000, tt.mean, tt.sigma)
			e := d.Estimates()
			assert.Equal(t, 1.0, Similarity(e, e))
		})
	}
}

func TestSimilarityIdenticalSamplesButSeparateDistributions(t *testing.T) {
	values := make([]float64, 5000)
	for i := range values {
		values[i] = rand.NormFloat64()
	}

	a := NewDistribution(len(values))
	b := NewDistribution(len(values))
	for _, v := range values {
		a.Sample(v)
		b.Sample(v)
	}

	assert.Equal(t, 1.0, Similarity(a.Estimates(), b.Estimates()))
}

func TestSimilarityMonotonicInShift(t *testing.T) {
	// spec.md §8: shifting one distribution by delta while holding spread
	// fixed produces similarity that monotonically decreases in |delta|.
	// Widely spaced shifts and a generous margin keep this robust against
	// ordinary sampling noise across runs (no fixed seed).
	const n = 10000
	base := newGaussianDistribution(n, 0, 1)
	baseEstimates := base.Estimates()

	const margin = 0.1
	prevSimilarity := 1.0
	for _, shift := range []float64{0, 3, 9, 20, 40} {
		shifted := NewDistribution(n)
		for i := 0; i < n; i++ {
			shifted.Sample(shift + rand.NormFloat64())
		}
		sim := Similarity(baseEstimates, shifted.Estimates())
		if shift == 0 {
			assert.InDelta(t, 1.0, sim, margin)
			prevSimilarity = sim
			continue
		}
		assert.LessOrEqualf(t, sim, prevSimilarity+margin,
			"similarity should not increase as shift grows: shift=%v sim=%v prev=%v", shift, sim, prevSimilarity)
		prevSimilarity = sim
	}
}

func TestSimilarityRequiresMatchingProbes(t *testing.T) {
	a := Estimates{Count: 1, Points: []QuantilePoint{{Quantile: 0.5, Value: 1}}}
	b := Estimates{Count: 1, Points: []QuantilePoint{{Quantile: 0.9, Value: 1}}}
	assert.Equal(t, 0.0, Similarity(a, b))

	empty := Estimates{}
	assert.Equal(t, 0.0, Similarity(empty, empty))
}

func TestIntervalOverlapSimilarityIdentity(t *testing.T) {
	d := newGaussianDistribution(2000, 3, 2)
	e := d.Estimates()
	assert.Equal(t, 1.0, IntervalOverlapSimilarity(e, e))
}

func TestIntervalOverlapSimilarityDivergesOnShift(t *testing.T) {
	a := newGaussianDistribution(5000, 0, 1).Estimates()
	b := newGaussianDistribution(5000, 1000, 1).Estimates()
	assert.Equal(t, 0.0, IntervalOverlapSimilarity(a, b))
}

func TestDistributionResetClears(t *testing.T) {
	d := NewDistribution(0)
	d.Sample(1)
	d.Sample(2)
	require.Equal(t, 2, d.Len())
	d.Reset()
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, int64(0), d.Estimates().Count)
}
