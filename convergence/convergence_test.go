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

package convergence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedtest/schedtest/internal/errs"
	"github.com/schedtest/schedtest/internal/quantile"
)

// fakeContext is a Starter test double: no real cgroups or clone, just a
// call counter, so the convergence state machine can be exercised quickly
// and deterministically.
type fakeContext struct {
	starts, stops int
	startErr      error
}

func (f *fakeContext) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeContext) Stop() []error {
	f.stops++
	return nil
}

func TestConvergeHitsTwiceInARow(t *testing.T) {
	ctx := &fakeContext{}
	v, err := converge(ctx, func() float64 { return 0.99 }, 0.95, time.Microsecond, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0.99, v)
	assert.Equal(t, 2, ctx.starts, "must stop as soon as the limit is crossed twice")
}

func TestConvergeFailStopsOnFlatMetric(t *testing.T) {
	ctx := &fakeContext{}
	start := time.Now()
	v, err := converge(ctx, func() float64 { return 0.5 }, 0.95, time.Millisecond, 4*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errs.ErrConvergence)
	assert.Equal(t, 0.5, v)
	assert.LessOrEqual(t, ctx.starts, 4, "fail-stop must terminate within a bounded number of trials, not run forever")
	assert.Less(t, elapsed, time.Second, "a flat metric must not hang the test")
}

func TestConvergePropagatesStartError(t *testing.T) {
	ctx := &fakeContext{startErr: errors.New("boom")}
	_, err := converge(ctx, func() float64 { return 0 }, 0.95, time.Microsecond, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, ctx.starts)
}

func TestBenchmarkFailsBelowConfidence(t *testing.T) {
	ctx := &fakeContext{}
	estimates := []quantile.Estimates{
		{Count: 100, Points: []quantile.QuantilePoint{{Quantile: 0.5, Value: 1}}},
		{Count: 100, Points: []quantile.QuantilePoint{{Quantile: 0.5, Value: 100}}},
		{Count: 100, Points: []quantile.QuantilePoint{{Quantile: 0.5, Value: 1}}},
		{Count: 100, Points: []quantile.QuantilePoint{{Quantile: 0.5, Value: 100}}},
	}
	i := 0
	summaryFn := func() quantile.Estimates {
		e := estimates[i%len(estimates)]
		i++
		return e
	}

	v, err := Benchmark(ctx, summaryFn, 0.95)
	assert.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConvergence)
	assert.Less(t, v, 0.95)
}
