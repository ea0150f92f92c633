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

// Package arena implements a file-backed, mmap'd bump allocator for
// cross-process shared state.
//
// Every object placed in an Arena is constructed in place at a stable
// address and is visible, at that same address, to every process that
// shares the underlying mapping (typically fork children). The arena never
// frees or relocates an object: its lifetime is the process lifetime of
// whichever process created it, plus every process that inherited the
// mapping across fork.
//
// T must be arena-safe: plain old data, synchronized only through atomics,
// holding no pointers to memory outside the arena and no external resources
// (file descriptors, goroutines) that a destructor would need to release.
// The arena never calls a destructor.
package arena

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrOutOfMemory is returned by Allocate when the arena has no room left for
// the requested type.
var ErrOutOfMemory = errors.New("arena: out of memory")

// DefaultSize is the default arena capacity (1 GiB), matching the scale a
// scheduler-workload test harness needs for its control primitives and
// per-workload shared state.
const DefaultSize = 1 << 30

// Arena is a contiguous, page-aligned, anonymous-file-backed region mapped
// MAP_SHARED so that fork children observe the exact same bytes at the
// exact same virtual address as the parent (the mapping is inherited by
// fork, not copy-on-write of the parent's private heap).
type Arena struct {
	fd     int
	mem    []byte
	offset uint64 // only ever mutated by the creating process, before any child forks
}

// New creates a new Arena of the given size, rounded up to the system page
// size, backed by a memfd and mapped MAP_SHARED|PROT_READ|PROT_WRITE.
func New(size int) (*Arena, error) {
	if size <= 0 {
		size = DefaultSize
	}
	pageSize := unix.Getpagesize()
	rounded := (size + pageSize - 1) &^ (pageSize - 1)

	fd, err := unix.MemfdCreate("schedtest-arena", 0)
	if err != nil {
		return nil, fmt.Errorf("arena: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(rounded)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("arena: ftruncate: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}
	return &Arena{fd: fd, mem: mem}, nil
}

// Close unmaps the arena and closes the backing memfd. It is best-effort:
// after fork, every process that inherited the mapping must call Close
// itself; errors here are not actionable and are reported only to the
// caller for logging.
func (a *Arena) Close() error {
	var firstErr error
	if a.mem != nil {
		if err := unix.Munmap(a.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arena: munmap: %w", err)
		}
		a.mem = nil
	}
	if a.fd >= 0 {
		if err := unix.Close(a.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arena: close: %w", err)
		}
		a.fd = -1
	}
	return firstErr
}

// Cap returns the total capacity of the arena in bytes.
func (a *Arena) Cap() int { return len(a.mem) }

// Len returns the number of bytes allocated so far.
func (a *Arena) Len() int { return int(atomic.LoadUint64(&a.offset)) }

// Allocate reserves space for a T, aligned to T's natural alignment,
// constructs it in place via ctor (which receives a pointer into the
// arena and must not retain any pointer outside the arena), and returns a
// stable pointer to it.
//
// Allocate is only ever called by the process that owns the Arena before
// any workload forks; it is not itself safe to call concurrently from
// multiple processes, since the bump offset is plain shared-memory state
// mutated without synchronization (matching the single-writer-before-fork
// invariant in spec.md's data model).
func Allocate[T any](a *Arena, ctor func(*T)) (*T, error) {
	var zero T
	align := uint64(unsafe.Alignof(zero))
	size := uint64(unsafe.Sizeof(zero))

	offset := a.offset
	if rem := offset % align; rem != 0 {
		offset += align - rem
	}
	if offset+size > uint64(len(a.mem)) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrOutOfMemory, size, offset, len(a.mem))
	}

	ptr := (*T)(unsafe.Pointer(&a.mem[offset]))
	*ptr = zero // zero the slot; never call a destructor on whatever was there (nothing ever was)
	if ctor != nil {
		ctor(ptr)
	}
	a.offset = offset + size
	return ptr, nil
}
