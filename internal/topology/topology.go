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

// Package topology enumerates the CPU hierarchy (hyperthread → core →
// core-complex → node) from sysfs, exactly as spec.md §6 describes and
// §1 dismisses as "a straightforward parser" — still required so
// scenario 4 (hyperthread spreading) can compute physical_cores and so
// any caller can derive a CPUSet to bind a thread to. Grounded on
// original_source/src/util/system.cpp's System::load.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"github.com/schedtest/schedtest/internal/taskpool"
)

var cpuDirRe = regexp.MustCompile(`^cpu(\d+)$`)

const sysCPUBase = "/sys/devices/system/cpu"

// Hyperthread is a single logical CPU (spec.md's "polymorphism over CPU
// sets" design note: it is the leaf that every higher-level mask is
// built from).
type Hyperthread struct {
	ID int
}

// Mask returns a CPUSet containing only this hyperthread.
func (h Hyperthread) Mask() CPUSet {
	var s CPUSet
	s.Set(h.ID)
	return s
}

// Core is a physical core: one or more hyperthreads sharing execution
// resources.
type Core struct {
	ID           int
	Hyperthreads []Hyperthread
}

// Mask returns the union of every hyperthread's mask in this core.
func (c Core) Mask() CPUSet {
	var s CPUSet
	for _, ht := range c.Hyperthreads {
		s.Or(ht.Mask())
	}
	return s
}

// CoreComplex groups cores sharing an L3 cache / die (AMD CCX-style
// grouping; derived from die_id or, failing that, the L3 cache id).
type CoreComplex struct {
	ID    int
	Cores []Core
}

// Mask returns the union of every core's mask in this complex.
func (cc CoreComplex) Mask() CPUSet {
	var s CPUSet
	for _, c := range cc.Cores {
		s.Or(c.Mask())
	}
	return s
}

// Node is a NUMA node (physical_package_id).
type Node struct {
	ID        int
	Complexes []CoreComplex
}

// Cores flattens every core across this node's complexes.
func (n Node) Cores() []Core {
	var out []Core
	for _, cc := range n.Complexes {
		out = append(out, cc.Cores...)
	}
	return out
}

// Mask returns the union of every complex's mask in this node.
func (n Node) Mask() CPUSet {
	var s CPUSet
	for _, cc := range n.Complexes {
		s.Or(cc.Mask())
	}
	return s
}

// System is the full topology of the host.
type System struct {
	Nodes    []Node
	allCores []Core
}

// Cores returns every physical core on the system, sorted by id.
func (s System) Cores() []Core { return s.allCores }

// LogicalCPUs returns the total hyperthread count across every core.
func (s System) LogicalCPUs() int {
	n := 0
	for _, c := range s.allCores {
		n += len(c.Hyperthreads)
	}
	return n
}

// PhysicalCores returns the number of distinct physical cores, the
// quantity scenario 4 (hyperthread spreading) divides by.
func (s System) PhysicalCores() int { return len(s.allCores) }

// Mask returns the union of every node's mask.
func (s System) Mask() CPUSet {
	var m CPUSet
	for _, n := range s.Nodes {
		m.Or(n.Mask())
	}
	return m
}

type cpuFacts struct {
	cpuID     int
	nodeID    int
	coreID    int
	complexID int
}

// Load builds a System by reading /sys/devices/system/cpu for every
// logical CPU reported by the kernel. Per-CPU sysfs reads are fanned out
// over internal/taskpool, since a large host can have hundreds of
// cpu<N>/topology/* files to open and this is pure I/O-bound host-side
// work, not anything workload processes touch.
func Load() (System, error) {
	n, err := cpuCount()
	if err != nil {
		return System{}, fmt.Errorf("topology: %w", err)
	}

	facts := make([]cpuFacts, n)
	pool := taskpool.New("topology-load", nil)
	var wg sync.WaitGroup
	for cpu := 0; cpu < n; cpu++ {
		cpu := cpu
		cpuPath := filepath.Join(sysCPUBase, fmt.Sprintf("cpu%d", cpu))
		if _, err := os.Stat(cpuPath); err != nil {
			continue
		}
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			facts[cpu] = readCPUFacts(cpu, cpuPath)
		})
	}
	wg.Wait()

	byNode := map[int]map[int]map[int][]int{} // node -> complex -> core -> []cpu

	for cpu := 0; cpu < n; cpu++ {
		f := facts[cpu]
		if f.cpuID != cpu {
			continue // skipped: no such sysfs directory
		}
		if byNode[f.nodeID] == nil {
			byNode[f.nodeID] = map[int]map[int][]int{}
		}
		if byNode[f.nodeID][f.complexID] == nil {
			byNode[f.nodeID][f.complexID] = map[int][]int{}
		}
		byNode[f.nodeID][f.complexID][f.coreID] = append(byNode[f.nodeID][f.complexID][f.coreID], cpu)
	}

	var nodeIDs []int
	for id := range byNode {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Ints(nodeIDs)

	var nodes []Node
	var allCores []Core
	for _, nodeID := range nodeIDs {
		complexMap := byNode[nodeID]
		var complexIDs []int
		for id := range complexMap {
			complexIDs = append(complexIDs, id)
		}
		sort.Ints(complexIDs)

		var complexes []CoreComplex
		for _, complexID := range complexIDs {
			coreMap := complexMap[complexID]
			var coreIDs []int
			for id := range coreMap {
				coreIDs = append(coreIDs, id)
			}
			sort.Ints(coreIDs)

			var cores []Core
			for _, coreID := range coreIDs {
				cpus := coreMap[coreID]
				sort.Ints(cpus)
				var hts []Hyperthread
				for _, cpu := range cpus {
					hts = append(hts, Hyperthread{ID: cpu})
				}
				core := Core{ID: coreID, Hyperthreads: hts}
				cores = append(cores, core)
				allCores = append(allCores, core)
			}
			complexes = append(complexes, CoreComplex{ID: complexID, Cores: cores})
		}
		nodes = append(nodes, Node{ID: nodeID, Complexes: complexes})
	}

	sort.Slice(allCores, func(i, j int) bool { return allCores[i].ID < allCores[j].ID })

	return System{Nodes: nodes, allCores: allCores}, nil
}

// cpuCount returns 1 + the highest cpu<N> directory found under
// sysCPUBase, i.e. an upper bound on logical CPU ids to probe. Entries
// that turn out not to exist (sparse numbering, offlined CPUs) are
// skipped individually by the caller.
func cpuCount() (int, error) {
	entries, err := os.ReadDir(sysCPUBase)
	if err != nil {
		return 0, fmt.Errorf("readdir %s: %w", sysCPUBase, err)
	}
	max := -1
	for _, e := range entries {
		m := cpuDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if max < 0 {
		return 0, fmt.Errorf("no cpu* directories under %s", sysCPUBase)
	}
	return max + 1, nil
}

func readCPUFacts(cpu int, cpuPath string) cpuFacts {
	f := cpuFacts{cpuID: cpu, coreID: cpu}

	if v, ok := readIntFile(filepath.Join(cpuPath, "topology", "physical_package_id")); ok {
		f.nodeID = v
	}
	if v, ok := readIntFile(filepath.Join(cpuPath, "topology", "core_id")); ok {
		f.coreID = v
	}
	if v, ok := readIntFile(filepath.Join(cpuPath, "topology", "die_id")); ok {
		f.complexID = v
		return f
	}

	// No die_id: fall back to the L3 cache index as a complex-grouping
	// proxy, matching system.cpp's behavior.
	cachePath := filepath.Join(cpuPath, "cache")
	entries, err := os.ReadDir(cachePath)
	if err != nil {
		return f
	}
	for _, e := range entries {
		levelPath := filepath.Join(cachePath, e.Name(), "level")
		level, ok := readIntFile(levelPath)
		if !ok || level != 3 {
			continue
		}
		if id, ok := readIntFile(filepath.Join(cachePath, e.Name(), "id")); ok {
			f.complexID = id
			break
		}
	}
	return f
}

func readIntFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	if !sc.Scan() {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return 0, false
	}
	return v, true
}

// CurrentCPU returns the logical CPU the calling thread is running on
// right now, via the raw getcpu(2) syscall (unwrapped by
// golang.org/x/sys/unix). Used by scenario 4 to sample each spinner's
// last-observed physical core after migrating it away.
func CurrentCPU() (int, error) {
	var cpu, node uint32
	_, _, errno := syscall.RawSyscall(sysGetcpuNr,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0, fmt.Errorf("topology: getcpu: %w", errno)
	}
	return int(cpu), nil
}
