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

package topology

// sysGetcpuNr is the raw amd64 getcpu(2) syscall number; golang.org/x/sys/unix
// does not wrap it, the same gap iouring.go's per-arch files fill for
// io_uring's own syscalls.
const sysGetcpuNr = 309
