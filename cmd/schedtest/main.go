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

// Command schedtest is the harness's CLI entrypoint: it optionally
// installs an external sched_ext scheduler binary, waits for the kernel
// to report it enabled, then runs the six end-to-end scenarios from
// spec.md §8 and exits non-zero if any of them fail or a startup
// precondition was not met, per spec.md §6's exit-code contract.
// Structured like ja7ad-consumption/cmd/consumption's single cobra root
// command with a plain options struct bound via pflag.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schedtest/schedtest/internal/config"
	"github.com/schedtest/schedtest/internal/errs"
	"github.com/schedtest/schedtest/internal/logging"
	"github.com/schedtest/schedtest/internal/proc"
	"github.com/schedtest/schedtest/internal/schedext"
	"github.com/schedtest/schedtest/internal/taskpool"
	"github.com/schedtest/schedtest/internal/topology"
	"github.com/schedtest/schedtest/scenarios"
)

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "schedtest",
		Short: "Correctness and convergence harness for pluggable sched_ext CPU schedulers",
		Long: `schedtest runs a fixed battery of workload scenarios (ping-pong wakeups,
worker fanout, herd broadcast, hyperthread spreading, partial-start unwind,
and a convergence-timeout check) against the currently installed sched_ext
scheduler, reporting pass/fail and the wake-latency distributions observed.

If --scheduler is given, schedtest spawns it, waits for the kernel to report
sched_ext enabled, runs the scenarios, then tears the scheduler down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cfg.BindFlags(root.Flags())

	root.SilenceUsage = true
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logging.New(nil, cfg.JSON)

	if cfg.SchedulerBin != "" {
		if os.Geteuid() != 0 {
			return fmt.Errorf("%w: launching a scheduler subprocess requires root", errs.ErrPrecondition)
		}
		if installed, err := schedext.AlreadyInstalled(); err != nil {
			return err
		} else if installed {
			return fmt.Errorf("%w: a scheduler is already installed", errs.ErrPrecondition)
		}

		sched, err := proc.Spawn([]string{cfg.SchedulerBin})
		if err != nil {
			return fmt.Errorf("%w: spawn %s: %v", errs.ErrResourceAcquisition, cfg.SchedulerBin, err)
		}
		defer sched.Close()

		name, err := schedext.WaitEnabled(100*time.Millisecond, time.Now().Add(cfg.MaxTime), func() bool { return !sched.Alive() })
		if err != nil {
			return err
		}
		log.Info().Str("scheduler", name).Msg("sched_ext enabled")
	} else if state, err := schedext.ReadState(); err != nil {
		return err
	} else if state != schedext.Enabled {
		return fmt.Errorf("%w: sched_ext is not enabled and no --scheduler was given", errs.ErrPrecondition)
	}

	system, err := topology.Load()
	if err != nil {
		return err
	}

	results := runAll(cfg, system)

	failed := false
	for _, r := range results {
		logResult(log, r, cfg.Verbose)
		if !r.Pass {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("schedtest: one or more scenarios failed")
	}
	return nil
}

// runAll fans the six (well, ten: herd broadcast runs once per N) scenarios
// out across internal/taskpool, the same bounded background-worker pool
// topology.Load uses for its own per-CPU sysfs fan-out, since each
// scenario spins up its own independent workload.Context and none share
// mutable state with its siblings.
func runAll(cfg *config.Config, system topology.System) []scenarios.Result {
	type job struct {
		index int
		run   func() scenarios.Result
	}

	jobs := []job{
		{run: func() scenarios.Result { return scenarios.PingPong(cfg.SamplerCapacity, cfg.Confidence) }},
		{run: func() scenarios.Result {
			return scenarios.WorkerFanout(system.LogicalCPUs(), cfg.SamplerCapacity, cfg.Confidence)
		}},
		{run: func() scenarios.Result { return scenarios.HyperthreadSpreading(cfg.Confidence) }},
		{run: func() scenarios.Result { return scenarios.PartialStartUnwind() }},
		{run: func() scenarios.Result { return scenarios.ConvergenceTimeout(cfg.Confidence) }},
	}
	for _, n := range []int{1, 2, 4, 8, 16} {
		n := n
		jobs = append(jobs, job{run: func() scenarios.Result {
			return scenarios.HerdBroadcast(n, cfg.SamplerCapacity, cfg.Confidence)
		}})
	}

	for i := range jobs {
		jobs[i].index = i
	}

	pool := taskpool.New("scenarios", nil)
	results := make([]scenarios.Result, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, j := range jobs {
		j := j
		pool.Go(func() {
			defer wg.Done()
			results[j.index] = j.run()
		})
	}
	wg.Wait()
	return results
}

func logResult(log zerolog.Logger, r scenarios.Result, verbose bool) {
	event := log.Info()
	if !r.Pass {
		event = log.Error()
	}
	event = event.Str("scenario", r.Name).Bool("pass", r.Pass).Float64("value", r.Value)
	if r.Err != nil {
		event = event.Err(r.Err)
	}
	event.Msg("scenario result")

	if verbose && r.Estimates.Count > 0 {
		log.Info().Str("scenario", r.Name).Int64("samples", r.Estimates.Count).Msg("distribution summary")
		if r.Histogram != "" {
			log.Info().Str("scenario", r.Name).Str("histogram", "\n"+r.Histogram).Msg("wake-latency histogram")
		}
	}
}

