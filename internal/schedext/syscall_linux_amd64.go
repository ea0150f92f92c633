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

//go:build linux && amd64

package schedext

// sysSchedSetschedulerNr is sched_setscheduler's syscall number on
// amd64 (arch/x86/entry/syscalls/syscall_64.tbl), unwrapped by
// golang.org/x/sys/unix same as internal/topology's getcpu constant.
const sysSchedSetschedulerNr = 144
