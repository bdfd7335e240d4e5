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

// Package kernel ties the memory subsystem together: it boots the kernel
// address space over a simulated machine, creates and destroys user
// processes and tracks the one running on the hart.
package kernel

import (
	"fmt"
	"slices"

	"gvisor.dev/sv39/pkg/cleanup"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/sync"
	"gvisor.dev/sv39/pkg/usermem"
)

// Kernel is the memory side of a booted kernel. Its services are safe for
// concurrent use.
type Kernel struct {
	conf       *config.Config
	mem        *physmem.Memory
	frames     *pgalloc.Allocator
	trampoline *pgalloc.Frame
	space      *mm.MemorySet
	fs         FS
	hart       sv39.Hart

	// mu protects below.
	mu       sync.Mutex
	nextPID  PID
	procs    map[PID]*Process
	current  *Process
	shutdown bool
}

// Boot builds a kernel on the machine described by conf: physical memory
// from the kernel base to the end of memory, a frame pool past the kernel
// image and the kernel address space, which is activated and checked. fs
// may be nil if no process opens files.
func Boot(conf *config.Config, fs FS) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	conf = conf.Clone()
	layout := conf.Layout()

	mem, err := physmem.New(layout.Base.Floor(), layout.MemoryEnd.Floor())
	if err != nil {
		return nil, fmt.Errorf("mapping physical memory: %w", err)
	}
	cu := cleanup.Make(func() {
		if err := mem.Release(); err != nil {
			log.Warningf("Releasing physical memory: %v", err)
		}
	})
	defer cu.Clean()

	frames, err := pgalloc.New(mem, layout.BSSEnd.Floor(), layout.MemoryEnd.Floor())
	if err != nil {
		return nil, err
	}
	stats := frames.Stats()
	log.Infof("Frame pool [%v, %v): %d frames", layout.BSSEnd, layout.MemoryEnd, stats.Total)

	trampoline, err := frames.Alloc()
	if err != nil {
		return nil, fmt.Errorf("allocating trampoline: %w", err)
	}
	cu.Add(trampoline.Release)

	space, err := mm.NewKernel(frames, layout, trampoline.PPN())
	if err != nil {
		return nil, fmt.Errorf("building kernel space: %w", err)
	}
	cu.Add(space.Release)

	k := &Kernel{
		conf:       conf,
		mem:        mem,
		frames:     frames,
		trampoline: trampoline,
		space:      space,
		fs:         fs,
		nextPID:    1,
		procs:      make(map[PID]*Process),
	}
	space.Activate(&k.hart)
	if err := mm.CheckKernelLayout(space, layout); err != nil {
		return nil, err
	}
	usermem.SetWarningRate(conf.RateLimitedLogEvery)
	log.Infof("Kernel space active, %v", k.hart.SATP())

	cu.Release()
	return k, nil
}

// Config returns the configuration the kernel booted with.
func (k *Kernel) Config() *config.Config {
	return k.conf
}

// Memory returns physical memory.
func (k *Kernel) Memory() *physmem.Memory {
	return k.mem
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *pgalloc.Allocator {
	return k.frames
}

// KernelSpace returns the kernel address space.
func (k *Kernel) KernelSpace() *mm.MemorySet {
	return k.space
}

// KernelToken returns the token of the kernel address space.
func (k *Kernel) KernelToken() sv39.Token {
	return k.space.Token()
}

// Hart returns the simulated hart.
func (k *Kernel) Hart() *sv39.Hart {
	return &k.hart
}

// FS returns the file namespace, or an error if the kernel has none.
func (k *Kernel) FS() (FS, error) {
	if k.fs == nil {
		return nil, fmt.Errorf("no filesystem: %w", memerr.ErrNoEntry)
	}
	return k.fs, nil
}

// Spawn creates a process running img.
func (k *Kernel) Spawn(img *mm.Image) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.shutdown {
		return nil, fmt.Errorf("kernel is shut down: %w", memerr.ErrNoProcess)
	}

	space, layout, err := mm.NewUser(k.frames, k.trampoline.PPN(), img, k.conf.UserStackSize)
	if err != nil {
		return nil, err
	}
	p := &Process{k: k, pid: k.nextPID}
	p.state.Swap(ProcessState{
		Space:  space,
		Layout: layout,
		Brk:    layout.HeapBottom,
	})
	k.nextPID++
	k.procs[p.pid] = p
	log.Debugf("Spawned %v, entry %v, stack top %v, %v", p, layout.Entry, layout.StackTop, space.Token())
	return p, nil
}

// Exit tears down p: its descriptors are closed and its address space
// released. If p is running, the kernel space is activated.
func (k *Kernel) Exit(p *Process) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.procs[p.pid] != p {
		return fmt.Errorf("%v: %w", p, memerr.ErrNoProcess)
	}
	delete(k.procs, p.pid)
	if k.current == p {
		k.current = nil
		k.space.Activate(&k.hart)
	}
	p.exit()
	log.Debugf("%v exited", p)
	return nil
}

// Lookup returns the live process with the given PID.
func (k *Kernel) Lookup(pid PID) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs[pid]
	return p, ok
}

// Processes returns the live processes ordered by PID.
func (k *Kernel) Processes() []*Process {
	k.mu.Lock()
	ps := make([]*Process, 0, len(k.procs))
	for _, p := range k.procs {
		ps = append(ps, p)
	}
	k.mu.Unlock()
	slices.SortFunc(ps, func(a, b *Process) int {
		return int(a.pid - b.pid)
	})
	return ps
}

// Switch makes p the running process and activates its address space. A
// nil p switches back to the kernel space.
func (k *Kernel) Switch(p *Process) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if p == nil {
		k.current = nil
		k.space.Activate(&k.hart)
		return nil
	}
	if k.procs[p.pid] != p {
		return fmt.Errorf("%v: %w", p, memerr.ErrNoProcess)
	}
	token, ok := p.Token()
	if !ok {
		return fmt.Errorf("%v: %w", p, memerr.ErrNoProcess)
	}
	k.current = p
	k.hart.Activate(token)
	return nil
}

// Current returns the running process, or nil.
func (k *Kernel) Current() *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// CurrentToken implements usermem.Current.CurrentToken.
func (k *Kernel) CurrentToken() (sv39.Token, bool) {
	p := k.Current()
	if p == nil {
		return 0, false
	}
	return p.Token()
}

// Shutdown exits every process and releases the kernel space and physical
// memory. The kernel must not be used afterwards.
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil
	}
	k.shutdown = true
	procs := k.procs
	k.procs = nil
	k.current = nil
	k.mu.Unlock()

	for _, p := range procs {
		p.exit()
	}
	k.space.Release()
	k.trampoline.Release()
	if stats := k.frames.Stats(); stats.Allocated != 0 {
		log.Warningf("%d frames still allocated at shutdown", stats.Allocated)
	}
	log.Infof("Kernel shut down")
	return k.mem.Release()
}

var (
	_ usermem.Current = (*Kernel)(nil)
	_ usermem.Current = (*Process)(nil)
)
