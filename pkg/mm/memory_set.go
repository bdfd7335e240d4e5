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

// Package mm provides address spaces: a set of non-overlapping regions and
// the page tables that realize them.
package mm

import (
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/sync"
)

var (
	spacesCreated   = metric.MustCreateNewUint64Metric("/memory/address_spaces_created", "Number of address spaces created.")
	spacesDestroyed = metric.MustCreateNewUint64Metric("/memory/address_spaces_destroyed", "Number of address spaces released.")
)

// btreeDegree is the degree of the region index.
const btreeDegree = 8

// regionLess orders regions by start page, then end page, so that empty
// regions sharing a start with a populated one stay distinct.
func regionLess(a, b *Region) bool {
	if a.vpns.Start != b.vpns.Start {
		return a.vpns.Start < b.vpns.Start
	}
	return a.vpns.End < b.vpns.End
}

// MemorySet is an address space.
//
// MemorySet is safe for concurrent use.
type MemorySet struct {
	mem   *physmem.Memory
	alloc *pgalloc.Allocator

	// mu protects the fields below.
	mu sync.Mutex

	// pt realizes the regions. Entries outside any region (the trampoline)
	// are installed directly.
	pt *pagetables.PageTables

	// regions indexes the regions by range.
	regions *btree.BTreeG[*Region]

	// raw holds the pages mapped outside any region.
	raw []sv39.VirtPageNum

	// heap is the region moved by ResizeHeap, or nil.
	heap *Region

	// released is set by Release.
	released bool
}

// New returns an empty address space with its own root page table.
func New(alloc *pgalloc.Allocator) (*MemorySet, error) {
	pt, err := pagetables.New(alloc)
	if err != nil {
		return nil, err
	}
	spacesCreated.Increment()
	ms := &MemorySet{
		mem:     alloc.Memory(),
		alloc:   alloc,
		pt:      pt,
		regions: btree.NewG(btreeDegree, regionLess),
	}
	log.Debugf("Created address space %v", ms.pt.Token())
	return ms, nil
}

func (ms *MemorySet) checkLive() {
	if ms.released {
		panic("mm: use of released address space")
	}
}

// overlapping returns a region that intersects vpns, ignoring skip.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) overlapping(vpns sv39.VPNRange, skip *Region) *Region {
	if vpns.Empty() {
		return nil
	}
	for _, vpn := range ms.raw {
		if vpns.Contains(vpn) {
			return &Region{vpns: sv39.NewVPNRange(vpn, vpn+1), mapType: Framed, perm: PermRX}
		}
	}
	var found *Region
	check := func(r *Region) bool {
		if r != skip && r.vpns.Intersects(vpns) {
			found = r
			return false
		}
		return true
	}
	// Regions starting before vpns can only reach into it if they are the
	// closest one below, since regions do not overlap each other.
	pivot := &Region{vpns: sv39.VPNRange{Start: vpns.Start, End: vpns.Start}}
	ms.regions.DescendLessOrEqual(pivot, func(r *Region) bool {
		if r.vpns.Empty() || r == skip {
			return true
		}
		check(r)
		return false
	})
	if found != nil {
		return found
	}
	ms.regions.AscendGreaterOrEqual(pivot, func(r *Region) bool {
		if r.vpns.Start >= vpns.End {
			return false
		}
		return check(r)
	})
	return found
}

// Push maps region into the address space and records it. For Framed
// regions, data is copied to the start of the region and the rest of it is
// left zero filled. Identical regions take no data.
//
// Push returns memerr.ErrOverlap if region intersects an existing region,
// and memerr.ErrOutOfMemory if frames run out; the address space is left
// unchanged in both cases.
func (ms *MemorySet) Push(region *Region, data []byte) error {
	return ms.PushAt(region, 0, data)
}

// PushAt is like Push, but copies data starting off bytes into the first
// page of region.
func (ms *MemorySet) PushAt(region *Region, off uint64, data []byte) error {
	if len(data) > 0 {
		if region.mapType != Framed {
			panic(fmt.Sprintf("mm: initial data for %v region %v", region.mapType, region))
		}
		if off+uint64(len(data)) > region.vpns.Len()*sv39.PageSize {
			panic(fmt.Sprintf("mm: %d bytes at offset %#x overflow region %v", len(data), off, region))
		}
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	if r := ms.overlapping(region.vpns, nil); r != nil {
		return fmt.Errorf("pushing %v, colliding with %v: %w", region, r, memerr.ErrOverlap)
	}
	if err := region.mapRange(ms.pt, ms.alloc, region.vpns); err != nil {
		return err
	}
	region.copyData(ms.mem, off, data)
	ms.regions.ReplaceOrInsert(region)
	return nil
}

// InsertFramed pushes a Framed region covering [start, end) with no
// initial data.
func (ms *MemorySet) InsertFramed(start, end sv39.VirtAddr, perm Perm) error {
	return ms.Push(NewRegion(start, end, Framed, perm), nil)
}

// find returns the region covering exactly vpns.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) find(vpns sv39.VPNRange) (*Region, bool) {
	return ms.regions.Get(&Region{vpns: vpns})
}

// findStart returns the region starting at vpn, preferring the populated
// one if an empty region shares the start.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) findStart(vpn sv39.VirtPageNum) (*Region, bool) {
	var found *Region
	ms.regions.AscendGreaterOrEqual(&Region{vpns: sv39.VPNRange{Start: vpn, End: vpn}}, func(r *Region) bool {
		if r.vpns.Start != vpn {
			return false
		}
		found = r
		return r.vpns.Empty()
	})
	return found, found != nil
}

// remove unmaps r, releases its frames and forgets it.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) remove(r *Region) {
	r.unmapRange(ms.pt, r.vpns)
	ms.regions.Delete(r)
	if r == ms.heap {
		ms.heap = nil
	}
}

// Remove removes the region covering exactly vpns. It returns
// memerr.ErrNoSuchMapping if there is none.
func (ms *MemorySet) Remove(vpns sv39.VPNRange) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	r, ok := ms.find(vpns)
	if !ok {
		return fmt.Errorf("removing %v: %w", vpns, memerr.ErrNoSuchMapping)
	}
	ms.remove(r)
	return nil
}

// mmapRange validates a user range: start must be page aligned and length
// non-zero; length is rounded up to whole pages.
func mmapRange(start sv39.VirtAddr, length uint64) (sv39.VPNRange, error) {
	if !start.Aligned() {
		return sv39.VPNRange{}, fmt.Errorf("start %v: %w", start, memerr.ErrUnaligned)
	}
	if length == 0 {
		return sv39.VPNRange{}, fmt.Errorf("zero length: %w", memerr.ErrInvalidArgument)
	}
	end, ok := start.AddLength(length)
	if !ok {
		return sv39.VPNRange{}, fmt.Errorf("range %v+%#x leaves the address space: %w", start, length, memerr.ErrInvalidArgument)
	}
	return sv39.VPNRangeOf(start, end), nil
}

// Mmap maps anonymous, zero-filled user memory over [start, start+length)
// with perm plus PermU. start must be page aligned; length is rounded up to
// a page multiple.
func (ms *MemorySet) Mmap(start sv39.VirtAddr, length uint64, perm Perm) error {
	vpns, err := mmapRange(start, length)
	if err != nil {
		return err
	}
	perm |= PermU
	if !perm.Valid() {
		return fmt.Errorf("mmap perm %v: %w", perm, memerr.ErrInvalidPerm)
	}
	if err := ms.Push(&Region{vpns: vpns, mapType: Framed, perm: perm, frames: make(map[sv39.VirtPageNum]*pgalloc.Frame), mapped: true}, nil); err != nil {
		return err
	}
	log.Debugf("mmap %v perm %v in %v", vpns, perm, ms.Token())
	return nil
}

// Munmap removes the region created by a matching Mmap. The page range of
// [start, start+length) must equal the range of a region created by Mmap
// exactly; anything else, including image, stack, heap and trap context
// regions, returns memerr.ErrNoSuchMapping.
func (ms *MemorySet) Munmap(start sv39.VirtAddr, length uint64) error {
	vpns, err := mmapRange(start, length)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	r, ok := ms.find(vpns)
	if !ok || !r.mapped {
		return fmt.Errorf("munmap %v: %w", vpns, memerr.ErrNoSuchMapping)
	}
	ms.remove(r)
	log.Debugf("munmap %v in %v", vpns, ms.pt.Token())
	return nil
}

// AppendTo grows the region starting at start so that it ends at newEnd,
// rounded up to a page. The new pages are zero filled.
func (ms *MemorySet) AppendTo(start, newEnd sv39.VirtAddr) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	r, ok := ms.findStart(start.Floor())
	if !ok {
		return fmt.Errorf("growing region at %v: %w", start, memerr.ErrNoSuchMapping)
	}
	return ms.grow(r, newEnd.Ceil())
}

// ShrinkTo shrinks the region starting at start so that it ends at newEnd,
// rounded up to a page, releasing the pages beyond.
func (ms *MemorySet) ShrinkTo(start, newEnd sv39.VirtAddr) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	r, ok := ms.findStart(start.Floor())
	if !ok {
		return fmt.Errorf("shrinking region at %v: %w", start, memerr.ErrNoSuchMapping)
	}
	return ms.shrink(r, newEnd.Ceil())
}

// HeapEnd returns the end of the heap region. ok is false if the address
// space has none.
func (ms *MemorySet) HeapEnd() (end sv39.VirtAddr, ok bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	if ms.heap == nil {
		return 0, false
	}
	return ms.heap.vpns.EndAddr(), true
}

// ResizeHeap grows or shrinks the heap region so that it ends at newEnd,
// rounded up to a page. The heap is tracked by identity, so a region mapped
// at the heap's start does not stand in for it.
func (ms *MemorySet) ResizeHeap(newEnd sv39.VirtAddr) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	if ms.heap == nil {
		return fmt.Errorf("resizing heap: %w", memerr.ErrNoSuchMapping)
	}
	end := newEnd.Ceil()
	if end >= ms.heap.vpns.End {
		return ms.grow(ms.heap, end)
	}
	return ms.shrink(ms.heap, end)
}

// grow extends r to end.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) grow(r *Region, end sv39.VirtPageNum) error {
	if end < r.vpns.End {
		return fmt.Errorf("growing %v to %v: %w", r, end.Addr(), memerr.ErrInvalidArgument)
	}
	grow := sv39.NewVPNRange(r.vpns.End, end)
	if o := ms.overlapping(grow, r); o != nil {
		return fmt.Errorf("growing %v to %v, colliding with %v: %w", r, end.Addr(), o, memerr.ErrOverlap)
	}
	if err := r.mapRange(ms.pt, ms.alloc, grow); err != nil {
		return err
	}
	ms.regions.Delete(r)
	r.vpns.End = end
	ms.regions.ReplaceOrInsert(r)
	return nil
}

// shrink truncates r to end, releasing the pages beyond.
//
// Precondition: ms.mu must be held.
func (ms *MemorySet) shrink(r *Region, end sv39.VirtPageNum) error {
	if end < r.vpns.Start || end > r.vpns.End {
		return fmt.Errorf("shrinking %v to %v: %w", r, end.Addr(), memerr.ErrInvalidArgument)
	}
	r.unmapRange(ms.pt, sv39.NewVPNRange(end, r.vpns.End))
	ms.regions.Delete(r)
	r.vpns.End = end
	ms.regions.ReplaceOrInsert(r)
	return nil
}

// mapRaw installs a single mapping that belongs to no region.
func (ms *MemorySet) mapRaw(vpn sv39.VirtPageNum, ppn sv39.PhysPageNum, perm Perm) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	if r := ms.overlapping(sv39.NewVPNRange(vpn, vpn+1), nil); r != nil {
		return fmt.Errorf("mapping %v, colliding with %v: %w", vpn, r, memerr.ErrOverlap)
	}
	if err := ms.pt.Map(vpn, ppn, perm.PTEFlags()); err != nil {
		return err
	}
	ms.raw = append(ms.raw, vpn)
	return nil
}

// Token returns the satp value activating the address space.
func (ms *MemorySet) Token() sv39.Token {
	return ms.pt.Token()
}

// Translate returns the leaf entry mapping vpn, if any.
func (ms *MemorySet) Translate(vpn sv39.VirtPageNum) (sv39.PTE, bool) {
	return ms.pt.Translate(vpn)
}

// TranslateVA returns the physical address va maps to, if any.
func (ms *MemorySet) TranslateVA(va sv39.VirtAddr) (sv39.PhysAddr, bool) {
	return ms.pt.TranslateVA(va)
}

// Mappings calls fn for every leaf mapping in ascending order until fn
// returns false.
func (ms *MemorySet) Mappings(fn func(pagetables.Mapping) bool) {
	ms.pt.Mappings(fn)
}

// Regions returns a description of every region in ascending order.
func (ms *MemorySet) Regions() []RegionInfo {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	infos := make([]RegionInfo, 0, ms.regions.Len())
	ms.regions.Ascend(func(r *Region) bool {
		infos = append(infos, r.info())
		return true
	})
	return infos
}

// Frames returns the number of frames owned by regions of the address
// space. Page table frames are not included.
func (ms *MemorySet) Frames() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var n int
	ms.regions.Ascend(func(r *Region) bool {
		n += len(r.frames)
		return true
	})
	return n
}

// Activate makes the address space the active one on h.
func (ms *MemorySet) Activate(h *sv39.Hart) {
	h.Activate(ms.Token())
}

// Release removes every region, releasing their frames, and then the page
// tables. The address space must not be used afterwards.
func (ms *MemorySet) Release() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.checkLive()
	token := ms.pt.Token()
	for {
		r, ok := ms.regions.Min()
		if !ok {
			break
		}
		ms.remove(r)
	}
	ms.pt.Release()
	ms.released = true
	spacesDestroyed.Increment()
	log.Debugf("Released address space %v", token)
}
