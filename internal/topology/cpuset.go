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

package topology

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CPUSet is the single capability spec.md §9's design notes ask for:
// "has a CPU mask and can bind the current thread to it". Hyperthread,
// Core, CoreComplex, Node, and System all produce one the same way, via
// Mask(); only the derivation differs.
type CPUSet struct {
	set unix.CPUSet
}

// Set adds logical CPU id to the set.
func (c *CPUSet) Set(id int) { c.set.Set(id) }

// Or unions other into c.
func (c *CPUSet) Or(other CPUSet) {
	for i := 0; i < len(c.set); i++ {
		c.set[i] |= other.set[i]
	}
}

// Count returns the number of logical CPUs in the set.
func (c CPUSet) Count() int { return c.set.Count() }

// Run binds the calling OS thread to this mask, invokes fn, then
// restores the thread's original affinity — mirroring
// original_source/src/util/system.cpp's CPUSet::run. The caller is
// responsible for having locked the calling goroutine to its OS thread
// (runtime.LockOSThread) before calling Run, since Go's scheduler is
// otherwise free to migrate the goroutine to a different thread with a
// different affinity mid-call.
func (c CPUSet) Run(fn func()) error {
	var orig unix.CPUSet
	if err := unix.SchedGetaffinity(0, &orig); err != nil {
		return fmt.Errorf("topology: get current cpu mask: %w", err)
	}
	target := c.set
	if err := unix.SchedSetaffinity(0, &target); err != nil {
		return fmt.Errorf("topology: set cpu mask: %w", err)
	}
	fn()
	if err := unix.SchedSetaffinity(0, &orig); err != nil {
		return fmt.Errorf("topology: restore cpu mask: %w", err)
	}
	return nil
}
