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

	"gvisor.dev/sv39/pkg/cleanup"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
)

// Region is a contiguous range of virtual pages with uniform permissions
// and backing.
type Region struct {
	vpns    sv39.VPNRange
	mapType MapType
	perm    Perm

	// frames holds the frame backing each mapped page of a Framed region.
	frames map[sv39.VirtPageNum]*pgalloc.Frame

	// mapped is set for regions created by Mmap. Only those can be removed
	// by Munmap.
	mapped bool
}

// NewRegion returns an unmapped region covering the pages that overlap
// [start, end).
func NewRegion(start, end sv39.VirtAddr, mapType MapType, perm Perm) *Region {
	return &Region{
		vpns:    sv39.VPNRangeOf(start, end),
		mapType: mapType,
		perm:    perm,
		frames:  make(map[sv39.VirtPageNum]*pgalloc.Frame),
	}
}

// Range returns the pages covered by r.
func (r *Region) Range() sv39.VPNRange {
	return r.vpns
}

// Perm returns the permissions of r.
func (r *Region) Perm() Perm {
	return r.perm
}

// Type returns the backing of r.
func (r *Region) Type() MapType {
	return r.mapType
}

// String implements fmt.Stringer.
func (r *Region) String() string {
	return fmt.Sprintf("%v %v %v", r.vpns, r.perm, r.mapType)
}

// mapOne maps vpn, allocating its frame for Framed regions.
func (r *Region) mapOne(pt *pagetables.PageTables, alloc *pgalloc.Allocator, vpn sv39.VirtPageNum) error {
	var ppn sv39.PhysPageNum
	switch r.mapType {
	case Identical:
		ppn = sv39.PhysPageNum(vpn)
	case Framed:
		f, err := alloc.Alloc()
		if err != nil {
			return err
		}
		if err := pt.Map(vpn, f.PPN(), r.perm.PTEFlags()); err != nil {
			f.Release()
			return err
		}
		r.frames[vpn] = f
		return nil
	}
	return pt.Map(vpn, ppn, r.perm.PTEFlags())
}

// unmapOne unmaps vpn and releases its frame, if any.
func (r *Region) unmapOne(pt *pagetables.PageTables, vpn sv39.VirtPageNum) {
	pt.Unmap(vpn)
	if f, ok := r.frames[vpn]; ok {
		delete(r.frames, vpn)
		f.Release()
	}
}

// mapRange maps every page in vpns. On failure, pages mapped by this call
// are unmapped again before returning.
func (r *Region) mapRange(pt *pagetables.PageTables, alloc *pgalloc.Allocator, vpns sv39.VPNRange) error {
	cu := cleanup.Make(nil)
	defer cu.Clean()
	for vpn := range vpns.All() {
		if err := r.mapOne(pt, alloc, vpn); err != nil {
			return fmt.Errorf("mapping %v of %v: %w", vpn, r, err)
		}
		cu.Add(func() { r.unmapOne(pt, vpn) })
	}
	cu.Release()
	return nil
}

// unmapRange unmaps every page in vpns.
func (r *Region) unmapRange(pt *pagetables.PageTables, vpns sv39.VPNRange) {
	for vpn := range vpns.All() {
		r.unmapOne(pt, vpn)
	}
}

// copyData copies data into the region's frames starting off bytes into the
// first page. Bytes not covered by data keep their zero fill.
//
// Precondition: r is Framed and mapped, and off+len(data) fits in r.
func (r *Region) copyData(mem *physmem.Memory, off uint64, data []byte) {
	for len(data) > 0 {
		vpn := r.vpns.Start + sv39.VirtPageNum(off/sv39.PageSize)
		page := mem.Page(r.frames[vpn].PPN())
		n := copy(page[off%sv39.PageSize:], data)
		data = data[n:]
		off += uint64(n)
	}
}

// RegionInfo describes a region.
type RegionInfo struct {
	Range  sv39.VPNRange
	Perm   Perm
	Type   MapType
	Frames int
}

// String implements fmt.Stringer.
func (i RegionInfo) String() string {
	return fmt.Sprintf("[%v, %v) %v %v frames=%d", i.Range.StartAddr(), i.Range.EndAddr(), i.Perm, i.Type, i.Frames)
}

func (r *Region) info() RegionInfo {
	return RegionInfo{Range: r.vpns, Perm: r.perm, Type: r.mapType, Frames: len(r.frames)}
}
