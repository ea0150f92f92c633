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

// Package schedext reads the kernel's sched_ext scheduling-class state,
// per spec.md §6: the single-sysfs-file query §1 calls out of core
// scope, but still needed for the startup gate that waits for an
// installed scheduler before a run begins.
package schedext

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/schedtest/schedtest/internal/errs"
)

// SchedExt is the Linux SCHED_EXT scheduling-class number (spec.md's
// Glossary), applied via sched_setscheduler by workload.Process.
const SchedExt = 7

// State is sched_ext's coarse installation state.
type State string

const (
	Disabled State = "disabled"
	Enabling State = "enabling"
	Enabled  State = "enabled"
)

const (
	stateFile = "/sys/kernel/sched_ext/state"
	opsFile   = "/sys/kernel/sched_ext/root/ops"
)

// ReadState reads /sys/kernel/sched_ext/state.
func ReadState() (State, error) {
	data, err := os.ReadFile(stateFile)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", errs.ErrPrecondition, stateFile, err)
	}
	return State(strings.TrimSpace(string(data))), nil
}

// OpsName reads the name of the currently installed scheduler from
// /sys/kernel/sched_ext/root/ops, with its trailing newline stripped.
func OpsName() (string, error) {
	data, err := os.ReadFile(opsFile)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", errs.ErrPrecondition, opsFile, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// WaitEnabled polls ReadState/OpsName at the given interval (spec.md §6
// fixes 100ms) until sched_ext reports "enabled" with a readable ops
// name, or exited reports true (the scheduler subprocess died first), or
// the deadline passes.
func WaitEnabled(interval time.Duration, deadline time.Time, exited func() bool) (string, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		if exited != nil && exited() {
			return "", fmt.Errorf("%w: scheduler process exited before sched_ext became enabled", errs.ErrPrecondition)
		}
		state, err := ReadState()
		if err == nil && state == Enabled {
			if name, err := OpsName(); err == nil && name != "" {
				return name, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: timed out waiting for sched_ext to become enabled", errs.ErrPrecondition)
		}
		time.Sleep(interval)
	}
}

// schedParam mirrors struct sched_param from <sched.h>: a single
// scheduling-priority field, sized as the kernel expects it on every
// architecture Go's race detector runs on.
type schedParam struct {
	priority int32
}

// SetScheduler opts the calling thread's process into the SCHED_EXT
// scheduling class at the given priority, via the raw sched_setscheduler(2)
// syscall (unwrapped by golang.org/x/sys/unix, same rationale as
// internal/topology's getcpu). Called from workload.Process's forked child,
// never the parent.
func SetScheduler(pid int, priority int32) error {
	param := schedParam{priority: priority}
	_, _, errno := syscall.RawSyscall(sysSchedSetschedulerNr,
		uintptr(pid), uintptr(SchedExt), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("schedext: sched_setscheduler: %w", errno)
	}
	return nil
}

// AlreadyInstalled reports whether a scheduler is already enabled,
// matching the precondition check spec.md §6 lists among host exit-code
// preconditions ("scheduler already installed").
func AlreadyInstalled() (bool, error) {
	state, err := ReadState()
	if err != nil {
		return false, err
	}
	return state == Enabled || state == Enabling, nil
}
