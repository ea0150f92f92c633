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

// Package proc implements spec.md §4.6 (C6): a clone/fork wrapper that
// runs a closure in a child process and tracks its liveness, plus a
// two-stage Spawn that embeds an external binary in its own PID
// namespace so killing the namespace-init process tears down the whole
// subtree (spec.md §8's "Subprocess containment" property). Grounded on
// original_source/src/util/child.cpp's Child::run/Child::spawn.
package proc

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/bytedance/gopkg/lang/mcache"
	"golang.org/x/sys/unix"
)

// Child is a process id plus, once observed, an exit code. The zero
// value is not usable; construct via Run or Spawn.
type Child struct {
	pid      int
	exited   bool
	exitCode int
}

// Run clones a child that executes fn then exits 0, with SIGCHLD plus
// any extraFlags (e.g. unix.CLONE_NEWPID for Spawn's namespace-init
// stage) folded into the clone flags word.
//
// fn runs in the forked child before any exec: per fork(2)/clone(2)
// semantics it must restrict itself to async-signal-safe operations
// until it calls Exit or execs — no new goroutines, no GC-triggering
// allocation patterns that assume other OS threads are scheduling.
func Run(fn func(), extraFlags uintptr) (*Child, error) {
	pid, _, errno := syscall.RawSyscall(unix.SYS_CLONE, uintptr(unix.SIGCHLD)|extraFlags, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("proc: clone: %w", errno)
	}
	if pid == 0 {
		fn()
		os.Exit(0)
	}
	return &Child{pid: int(pid)}, nil
}

// Spawn launches argv as a subtree-isolated process: an intermediate
// "namespace init" child is cloned into a fresh PID namespace
// (CLONE_NEWPID); it sets PDEATHSIG=KILL, forks the real grandchild,
// which execs argv, and then namespace-init reaps every reparented
// orphan until the grandchild exits, at which point it exits with the
// grandchild's own status (255 if a signal killed it). The outer caller learns whether exec
// succeeded via a close-on-exec notification pipe: EOF means success, a
// short non-zero read carries the errno of an exec failure.
func Spawn(argv []string) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("proc: spawn: empty argv")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("proc: spawn: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("proc: pipe2: %w", err)
	}
	if err := unix.SetNonblock(int(w.Fd()), false); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("proc: pipe2 flags: %w", err)
	}

	child, err := Run(func() {
		r.Close()
		execChild(w, path, argv)
	}, unix.CLONE_NEWPID)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}

	w.Close()
	defer r.Close()

	buf := mcache.Malloc(4)
	defer mcache.Free(buf)

	n, readErr := readFull(r, buf)
	if n == 0 {
		return child, nil
	}
	if readErr != nil && n == 0 {
		return child, nil
	}
	rc := int32(binary.LittleEndian.Uint32(buf))
	return child, fmt.Errorf("proc: failed to start child: errno %d", rc)
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// execChild is the body of the namespace-init process: it sets
// PDEATHSIG, forks the real grandchild (which execs argv), then loops
// waitpid(-1) to reap every process reparented to it as the namespace's
// pid-1, exiting with the grandchild's own exit status (255 if a signal
// killed it) once that one process is reaped. Matches original_source/src/util/child.cpp's
// exec_child.
func execChild(notify *os.File, path string, argv []string) {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		writeErrno(notify, err)
		os.Exit(1)
	}

	grandchild, _, errno := syscall.RawSyscall(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0)
	if errno != 0 {
		writeErrno(notify, errno)
		os.Exit(1)
	}
	if grandchild == 0 {
		env := os.Environ()
		execErr := unix.Exec(path, argv, env)
		writeErrno(notify, execErr)
		os.Exit(1)
	}

	notify.Close()

	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, 0, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			os.Exit(255)
		}
		if pid == int(grandchild) {
			if status.Exited() {
				os.Exit(status.ExitStatus())
			}
			if status.Signaled() {
				os.Exit(255)
			}
		}
	}
}

func writeErrno(notify *os.File, err error) {
	var errno int32
	if e, ok := err.(unix.Errno); ok {
		errno = int32(e)
	} else {
		errno = 1
	}
	buf := mcache.Malloc(4)
	defer mcache.Free(buf)
	binary.LittleEndian.PutUint32(buf, uint32(errno))
	_, _ = notify.Write(buf)
}

// Alive performs a non-blocking liveness check (waitpid WNOHANG); it
// updates the Child's captured exit code if the process has in fact
// exited.
func (c *Child) Alive() bool {
	if c.exited {
		return false
	}
	var status unix.WaitStatus
	pid, err := unix.Wait4(c.pid, &status, unix.WNOHANG, nil)
	if err != nil || pid != c.pid {
		return true
	}
	c.captureExit(status)
	return false
}

// Wait blocks (if block is true) until the child has exited, capturing
// its exit code. If block is false, it behaves like Alive.
func (c *Child) Wait(block bool) bool {
	if c.exited {
		return false
	}
	flags := 0
	if !block {
		flags = unix.WNOHANG
	}
	var status unix.WaitStatus
	pid, err := unix.Wait4(c.pid, &status, flags, nil)
	if err != nil || pid != c.pid {
		return unix.Kill(c.pid, 0) == nil
	}
	c.captureExit(status)
	return false
}

func (c *Child) captureExit(status unix.WaitStatus) {
	c.exited = true
	switch {
	case status.Exited():
		c.exitCode = status.ExitStatus()
	case status.Signaled():
		c.exitCode = -int(status.Signal())
	}
}

// Kill sends sig to the child.
func (c *Child) Kill(sig unix.Signal) error {
	return unix.Kill(c.pid, sig)
}

// ExitCode returns the captured exit code and whether the child has, in
// fact, been reaped yet.
func (c *Child) ExitCode() (int, bool) {
	return c.exitCode, c.exited
}

// PID returns the child's process id.
func (c *Child) PID() int { return c.pid }

// Close blocks until the child is reaped, guaranteeing Child never leaks
// a zombie (spec.md §4.6's destructor invariant).
func (c *Child) Close() error {
	c.Wait(true)
	return nil
}
