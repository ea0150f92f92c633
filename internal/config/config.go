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

// Package config is the typed configuration struct bound to CLI flags by
// cmd/schedtest, following ja7ad-consumption/cmd/consumption's
// cobra+pflag root-command style: a plain struct, flags bound directly
// into its fields, no globals.
package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/schedtest/schedtest/internal/arena"
	"github.com/schedtest/schedtest/internal/xsync"
	"github.com/schedtest/schedtest/workload"
)

// Config holds the harness's command-line settings: arena size, sampler
// capacity, convergence timing, confidence, workload priority, and the
// optional external scheduler binary to install before running. The
// scenarios read only SamplerCapacity (as a distribution size hint) and
// Confidence; ArenaSize, MinTime and SchedPriority are not passed to them,
// and MaxTime bounds only the wait for --scheduler to become enabled.
type Config struct {
	ArenaSize       int
	SamplerCapacity int

	MinTime    time.Duration
	MaxTime    time.Duration
	Confidence float64

	SchedulerBin  string
	SchedPriority int32

	JSON    bool
	Verbose bool
}

// Default returns the configuration spec.md's component table implies:
// 1 GiB arena, a 64K-sample ring, 0.25s/10s convergence bounds, and 0.95
// confidence — matching benchmark.cpp's gflags defaults (FLAGS_min_time,
// FLAGS_max_time, FLAGS_confidence).
func Default() *Config {
	return &Config{
		ArenaSize:       arena.DefaultSize,
		SamplerCapacity: xsync.DefaultSamplerCapacity,
		MinTime:         250 * time.Millisecond,
		MaxTime:         10 * time.Second,
		Confidence:      0.95,
		SchedPriority:   int32(workload.DefaultPriority),
	}
}

// BindFlags registers every Config field on fs, so cmd/schedtest's root
// command can call this once and Execute().
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.ArenaSize, "arena-size", c.ArenaSize, "shared arena capacity in bytes (not applied: scenarios use arena.DefaultSize)")
	fs.IntVar(&c.SamplerCapacity, "sampler-capacity", c.SamplerCapacity, "initial capacity of each scenario's wake-latency distribution (the sampler ring is fixed at xsync.DefaultSamplerCapacity)")
	fs.DurationVar(&c.MinTime, "min-time", c.MinTime, "initial trial duration (not applied: convergence starts at convergence.DefaultMinTime)")
	fs.DurationVar(&c.MaxTime, "max-time", c.MaxTime, "how long to wait for --scheduler to enable sched_ext (convergence trials are capped at convergence.DefaultMaxTime)")
	fs.Float64Var(&c.Confidence, "confidence", c.Confidence, "similarity threshold a benchmark must converge to")
	fs.StringVar(&c.SchedulerBin, "scheduler", c.SchedulerBin, "path to an external sched_ext scheduler binary to install before running")
	fs.Int32Var(&c.SchedPriority, "priority", c.SchedPriority, "SCHED_EXT priority for workload processes (not applied: scenarios use workload.DefaultPriority)")
	fs.BoolVar(&c.JSON, "json", c.JSON, "emit structured JSON logs instead of console output")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "print per-scenario distribution summaries")
}
