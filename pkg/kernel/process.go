// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/sync"
)

// PID identifies a process.
type PID int32

// ProcessState is the mutable state of a process, reachable only through
// Process.With.
type ProcessState struct {
	// Space is the address space. It is nil once the process has exited.
	Space *mm.MemorySet

	// Layout records where the image, stack and heap were placed.
	Layout mm.UserLayout

	// Brk is the current program break, between Layout.HeapBottom and the
	// end of the heap region.
	Brk sv39.VirtAddr

	// Files is the descriptor table.
	Files FDTable

	// users counts the references taken by IncUsers. The address space is
	// released by whichever of exit and the last DecUsers comes later.
	users int
}

// Process is a user process.
//
// Process implements usermem.Current, so that the translation helpers can
// be pointed at it directly.
type Process struct {
	k     *Kernel
	pid   PID
	state sync.Exclusive[ProcessState]
}

// PID returns the process ID.
func (p *Process) PID() PID {
	return p.pid
}

// Kernel returns the kernel the process runs on.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("process %d", p.pid)
}

// With calls fn with exclusive access to the process state. It fails with
// memerr.ErrNoProcess once the process has exited. fn must not call back
// into With on the same process.
func (p *Process) With(fn func(*ProcessState) error) error {
	return p.state.With(func(s *ProcessState) error {
		if s.Space == nil {
			return fmt.Errorf("%v: %w", p, memerr.ErrNoProcess)
		}
		return fn(s)
	})
}

// Token returns the token of the process address space. ok is false once
// the process has exited.
func (p *Process) Token() (token sv39.Token, ok bool) {
	err := p.With(func(s *ProcessState) error {
		token = s.Space.Token()
		return nil
	})
	return token, err == nil
}

// Memory implements usermem.Current.Memory.
func (p *Process) Memory() *physmem.Memory {
	return p.k.mem
}

// CurrentToken implements usermem.Current.CurrentToken.
func (p *Process) CurrentToken() (sv39.Token, bool) {
	return p.Token()
}

// IncUsers returns the address space of p with a user reference held.
// The space, and every frame it maps, stays allocated until the matching
// DecUsers, even if p exits in between. It fails with memerr.ErrNoProcess
// once p has exited.
func (p *Process) IncUsers() (*mm.MemorySet, error) {
	var space *mm.MemorySet
	err := p.With(func(s *ProcessState) error {
		space = s.Space
		s.users++
		return nil
	})
	return space, err
}

// DecUsers drops a reference taken by IncUsers on space.
func (p *Process) DecUsers(space *mm.MemorySet) {
	var release bool
	p.state.With(func(s *ProcessState) error {
		if s.users <= 0 {
			panic(fmt.Sprintf("%v: DecUsers without IncUsers", p))
		}
		s.users--
		release = s.users == 0 && s.Space == nil
		return nil
	})
	if release {
		log.Debugf("%v: releasing address space %v after its last user", p, space.Token())
		space.Release()
	}
}

// exit tears the process down. It returns false if it had already exited.
// The address space is released now, or by the last DecUsers if syscalls
// still use it.
func (p *Process) exit() bool {
	var (
		space *mm.MemorySet
		busy  bool
	)
	p.state.With(func(s *ProcessState) error {
		space = s.Space
		s.Space = nil
		s.Files.RemoveAll()
		busy = s.users > 0
		return nil
	})
	if space == nil {
		return false
	}
	if !busy {
		space.Release()
	}
	return true
}
