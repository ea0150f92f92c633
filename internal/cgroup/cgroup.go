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

// Package cgroup implements the scoped cgroup acquisition described in
// spec.md §4.5 (C5): create a uniquely-named directory below the current
// process's cgroup, enter tasks into it, and guarantee that on Close
// every inhabitant is migrated back to the parent before the directory
// is removed. Grounded on original_source/src/util/cgroups.cpp's
// Cgroup::create/cleanup.
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/xxhash3"
)

// Root is the cgroup v2 mount point spec.md assumes is present.
const Root = "/sys/fs/cgroup"

// Scope owns a uniquely-named subdirectory under the caller's current
// cgroup. A zero-value Scope is not valid; use Create.
type Scope struct {
	path   string
	parent string
}

var uniqueCounter uint64

// Create parses /proc/self/cgroup for the caller's current cgroup path,
// derives a unique child directory name, and mkdir -p's it below Root.
// name is a human-readable prefix (typically the workload name); a
// counter and a hash of the current time are mixed in so repeated calls
// within the same process never collide.
func Create(name string) (*Scope, error) {
	current, err := currentCgroup()
	if err != nil {
		return nil, fmt.Errorf("cgroup: determine current cgroup: %w", err)
	}

	unique := uniqueName(name)
	parentDir := filepath.Join(Root, current)
	dir := filepath.Join(parentDir, unique)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cgroup: mkdir %s: %w", dir, err)
	}

	return &Scope{path: dir, parent: parentDir}, nil
}

// uniqueName hashes the wall clock and a monotonic counter with xxhash3
// (the teacher's own hashing dependency, see internal/hash/maphash in
// cloudwego-gopkg) rather than hand-rolling a name generator.
func uniqueName(prefix string) string {
	n := atomic.AddUint64(&uniqueCounter, 1)
	seed := fmt.Sprintf("%s-%d-%d-%d", prefix, os.Getpid(), time.Now().UnixNano(), n)
	sum := xxhash3.HashString(seed)
	if prefix == "" {
		prefix = "schedtest"
	}
	return fmt.Sprintf("%s-%016x", prefix, sum)
}

// currentCgroup parses /proc/self/cgroup, returning the last colon-field
// of the unified (cgroup v2) line, per spec.md §6's format description
// "id:controllers:path" (ignoring namespace lines is implicit: cgroup v2
// reports exactly one line with an empty controller list).
func currentCgroup() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var path string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		path = line[idx+1:]
		break
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("no cgroup path found in /proc/self/cgroup")
	}
	return strings.TrimPrefix(path, "/"), nil
}

// Path returns the scope's cgroup directory.
func (s *Scope) Path() string { return s.path }

// Enter writes pid into this scope's tasks file.
func (s *Scope) Enter(pid int) error {
	return writeTask(filepath.Join(s.path, "tasks"), pid)
}

func writeTask(tasksPath string, pid int) error {
	f, err := os.OpenFile(tasksPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("cgroup: open %s: %w", tasksPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		return fmt.Errorf("cgroup: write %s: %w", tasksPath, err)
	}
	return nil
}

// Close migrates every task still in this scope back to the parent
// cgroup, then recursively removes the scope directory. Per spec.md
// §4.5, individual task-migration failures are suppressed: a task may
// simply have exited between the read and the write, which is not an
// error worth surfacing.
func (s *Scope) Close() error {
	if s.path == "" {
		return nil
	}
	s.migrateToParent()
	path := s.path
	err := os.RemoveAll(path)
	s.path = ""
	if err != nil {
		return fmt.Errorf("cgroup: remove %s: %w", path, err)
	}
	return nil
}

func (s *Scope) migrateToParent() {
	tasks, err := os.Open(filepath.Join(s.path, "tasks"))
	if err != nil {
		return
	}
	defer tasks.Close()

	parentTasks := filepath.Join(s.parent, "tasks")
	sc := bufio.NewScanner(tasks)
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			continue
		}
		_ = writeTask(parentTasks, pid) // best-effort, per spec.md §4.5
	}
}
