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

package mm

import (
	"fmt"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/sv39"
)

// TrampolineVPN is the highest virtual page, holding the trap trampoline
// in every address space.
const TrampolineVPN = sv39.MaxVirtPageNum - 1

var (
	// Trampoline is the address of the trampoline page.
	Trampoline = TrampolineVPN.Addr()

	// TrapContext is the address of the per-process trap context page,
	// just below the trampoline.
	TrapContext = (TrampolineVPN - 1).Addr()
)

// MMIO is a device register window identity mapped into the kernel.
type MMIO struct {
	Base sv39.PhysAddr
	Size uint64
}

// KernelLayout describes the physical placement of the kernel image and
// the end of usable memory. All boundaries are page aligned.
type KernelLayout struct {
	// Base is the start of .text.
	Base sv39.PhysAddr

	// TextEnd, RodataEnd, DataEnd and BSSEnd end the image sections in
	// order. BSSEnd is also the first page available to the frame
	// allocator.
	TextEnd   sv39.PhysAddr
	RodataEnd sv39.PhysAddr
	DataEnd   sv39.PhysAddr
	BSSEnd    sv39.PhysAddr

	// MemoryEnd is the end of physical memory.
	MemoryEnd sv39.PhysAddr

	// MMIO lists the device windows.
	MMIO []MMIO
}

type section struct {
	name       string
	start, end sv39.PhysAddr
	perm       Perm
}

func (l *KernelLayout) sections() []section {
	s := []section{
		{".text", l.Base, l.TextEnd, PermRX},
		{".rodata", l.TextEnd, l.RodataEnd, PermR},
		{".data", l.RodataEnd, l.DataEnd, PermRW},
		{".bss", l.DataEnd, l.BSSEnd, PermRW},
		{"physical memory", l.BSSEnd, l.MemoryEnd, PermRW},
	}
	for _, m := range l.MMIO {
		s = append(s, section{"mmio", m.Base, m.Base + sv39.PhysAddr(m.Size), PermRW})
	}
	return s
}

// Validate checks that the boundaries are page aligned and ordered.
func (l *KernelLayout) Validate() error {
	bounds := []sv39.PhysAddr{l.Base, l.TextEnd, l.RodataEnd, l.DataEnd, l.BSSEnd, l.MemoryEnd}
	for i, b := range bounds {
		if !b.Aligned() {
			return fmt.Errorf("kernel layout boundary %v is not page aligned", b)
		}
		if i > 0 && b < bounds[i-1] {
			return fmt.Errorf("kernel layout boundary %v precedes %v", b, bounds[i-1])
		}
	}
	if l.Base == l.TextEnd {
		return fmt.Errorf("kernel layout has an empty .text")
	}
	for _, m := range l.MMIO {
		if !m.Base.Aligned() || m.Size == 0 {
			return fmt.Errorf("mmio window %v+%#x must be page aligned and non-empty", m.Base, m.Size)
		}
		if m.Base < l.MemoryEnd && l.Base < m.Base+sv39.PhysAddr(m.Size) {
			return fmt.Errorf("mmio window %v+%#x overlaps kernel memory", m.Base, m.Size)
		}
	}
	return nil
}

// NewKernel builds the kernel address space: every image section and the
// rest of physical memory identity mapped with the section's permissions,
// the MMIO windows, and the trampoline page.
func NewKernel(alloc *pgalloc.Allocator, layout *KernelLayout, trampoline sv39.PhysPageNum) (*MemorySet, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	ms, err := New(alloc)
	if err != nil {
		return nil, err
	}
	for _, s := range layout.sections() {
		if s.start == s.end {
			continue
		}
		log.Infof("Mapping %s [%v, %v) %v", s.name, s.start, s.end, s.perm)
		r := NewRegion(sv39.VirtAddr(s.start), sv39.VirtAddr(s.end), Identical, s.perm)
		if err := ms.Push(r, nil); err != nil {
			ms.Release()
			return nil, fmt.Errorf("mapping kernel %s: %w", s.name, err)
		}
	}
	if err := ms.mapRaw(TrampolineVPN, trampoline, PermRX); err != nil {
		ms.Release()
		return nil, fmt.Errorf("mapping trampoline: %w", err)
	}
	return ms, nil
}

// CheckKernelLayout verifies that the middle page of .text and .rodata is
// not writable and the middle page of .data is not executable.
func CheckKernelLayout(ms *MemorySet, layout *KernelLayout) error {
	mid := func(start, end sv39.PhysAddr) sv39.VirtPageNum {
		return sv39.VirtAddr(start + (end-start)/2).Floor()
	}
	for _, c := range []struct {
		name  string
		vpn   sv39.VirtPageNum
		check func(sv39.PTE) bool
		empty bool
	}{
		{"text is not writable", mid(layout.Base, layout.TextEnd), func(p sv39.PTE) bool { return !p.Writable() }, layout.Base == layout.TextEnd},
		{"rodata is not writable", mid(layout.TextEnd, layout.RodataEnd), func(p sv39.PTE) bool { return !p.Writable() }, layout.TextEnd == layout.RodataEnd},
		{"data is not executable", mid(layout.RodataEnd, layout.DataEnd), func(p sv39.PTE) bool { return !p.Executable() }, layout.RodataEnd == layout.DataEnd},
	} {
		if c.empty {
			continue
		}
		pte, ok := ms.Translate(c.vpn)
		if !ok {
			return fmt.Errorf("kernel layout check %q: %v is not mapped", c.name, c.vpn)
		}
		if !c.check(pte) {
			return fmt.Errorf("kernel layout check %q failed: %v maps to %v", c.name, c.vpn, pte)
		}
	}
	log.Infof("Kernel layout check passed")
	return nil
}
