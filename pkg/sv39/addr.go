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

package sv39

import (
	"fmt"
)

// PhysAddr is a physical address. Only the low PAWidth bits are meaningful.
type PhysAddr uint64

// VirtAddr is an SV39 virtual address, stored truncated to VAWidth bits.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysAddrFrom returns the physical address for v, discarding bits above
// PAWidth.
func PhysAddrFrom(v uint64) PhysAddr {
	return PhysAddr(v & paMask)
}

// Floor returns the page number of the page containing a.
func (a PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(uint64(a) >> PageShift)
}

// Ceil returns the page number of the first page starting at or after a.
func (a PhysAddr) Ceil() PhysPageNum {
	return PhysPageNum((uint64(a) + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of a within its page.
func (a PhysAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page-aligned.
func (a PhysAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// PageNum returns the page number starting at a. ok is false if a is not
// page-aligned, in which case Floor or Ceil must be used explicitly.
func (a PhysAddr) PageNum() (ppn PhysPageNum, ok bool) {
	return a.Floor(), a.Aligned()
}

// String implements fmt.Stringer.String.
func (a PhysAddr) String() string {
	return fmt.Sprintf("pa:%#x", uint64(a))
}

// Addr returns the address of the first byte of the page.
func (p PhysPageNum) Addr() PhysAddr {
	return PhysAddr((uint64(p) & ppnMask) << PageShift)
}

// String implements fmt.Stringer.String.
func (p PhysPageNum) String() string {
	return fmt.Sprintf("ppn:%#x", uint64(p))
}

// VirtAddrFrom returns the virtual address for v, discarding bits above
// VAWidth. Use Canonical to check that v was a valid SV39 address first.
func VirtAddrFrom(v uint64) VirtAddr {
	return VirtAddr(v & vaMask)
}

// Canonical returns true if bits 63 through VAWidth-1 of v are all equal, as
// SV39 requires of every virtual address.
func Canonical(v uint64) bool {
	high := v >> (VAWidth - 1)
	return high == 0 || high == (^uint64(0))>>(VAWidth-1)
}

// Uint64 returns a as a full-width, sign-extended address.
func (a VirtAddr) Uint64() uint64 {
	v := uint64(a)
	if v&(1<<(VAWidth-1)) != 0 {
		v |= ^vaMask
	}
	return v
}

// Floor returns the page number of the page containing a.
func (a VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(uint64(a) >> PageShift)
}

// Ceil returns the page number of the first page starting at or after a.
func (a VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(a) + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of a within its page.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page-aligned.
func (a VirtAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// PageNum returns the page number starting at a. ok is false if a is not
// page-aligned.
func (a VirtAddr) PageNum() (vpn VirtPageNum, ok bool) {
	return a.Floor(), a.Aligned()
}

// AddLength adds the given length to a and returns the result. ok is true
// iff the end of the range does not leave the SV39 address space.
func (a VirtAddr) AddLength(length uint64) (end VirtAddr, ok bool) {
	e := uint64(a) + length
	if e < uint64(a) || e > vaMask+1 {
		return 0, false
	}
	// e may equal 1<<VAWidth, the exclusive end of the address space.
	return VirtAddr(e), true
}

// String implements fmt.Stringer.String.
func (a VirtAddr) String() string {
	return fmt.Sprintf("va:%#x", uint64(a))
}

// Addr returns the address of the first byte of the page.
func (v VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(v) << PageShift)
}

// Indexes returns the page table index used at each level, root first.
func (v VirtPageNum) Indexes() [Levels]uint64 {
	var idx [Levels]uint64
	vpn := uint64(v)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = vpn & (EntriesPerTable - 1)
		vpn >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (v VirtPageNum) String() string {
	return fmt.Sprintf("vpn:%#x", uint64(v))
}

// MaxVirtPageNum is one past the highest virtual page number.
const MaxVirtPageNum = VirtPageNum(1) << VPNWidth
