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

// Package errs defines the error kinds from spec.md §7, as
// errors.Is-compatible sentinels wrapped with fmt.Errorf, matching the
// plain-error convention used throughout the teacher repo's
// protocol/thrift package (e.g. exception.go's typed ApplicationException
// codes) rather than a bespoke error-handling framework.
package errs

import "errors"

// Precondition errors abort the run before any child is spawned: not
// root, scheduler already installed, no sched_ext support.
var ErrPrecondition = errors.New("schedtest: precondition failed")

// ResourceAcquisition errors come from clone/fork/pipe/mmap/memfd/cgroup
// creation.
var ErrResourceAcquisition = errors.New("schedtest: resource acquisition failed")

// ChildStart errors are reported back from a workload's first-stage
// result: exec failed, cgroup-entry failed, scheduling-class opt-in
// failed.
var ErrChildStart = errors.New("schedtest: child start failed")

// ChildRuntime errors are captured in a workload's final-result slot
// when the user closure itself returns an error, and are also reported
// when the child exits without writing a final result at all.
var ErrChildRuntime = errors.New("schedtest: child runtime failed")

// Convergence is not really an error; Converge returns its last observed
// value regardless, and Benchmark uses this to record a test failure
// when that value falls short of the requested confidence.
var ErrConvergence = errors.New("schedtest: convergence threshold not reached")
