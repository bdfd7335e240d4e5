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

// Package pgalloc allocates physical page frames.
//
// Frames are handed out from a fixed range of physical pages. Pages that have
// never been handed out are taken in ascending order; released pages are kept
// on a stack and reused most recently released first. Every allocated frame is
// zero filled before it is returned.
package pgalloc

import (
	"fmt"

	"gvisor.dev/sv39/pkg/bitmap"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/sync"
)

var (
	framesAllocated = metric.MustCreateNewUint64Metric("/memory/frames_allocated", "Number of physical frames handed out.")
	framesReleased  = metric.MustCreateNewUint64Metric("/memory/frames_released", "Number of physical frames returned to the allocator.")
)

// Allocator hands out frames from the physical page range [start, end).
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mem *physmem.Memory

	// start and end bound the managed range. They are immutable.
	start sv39.PhysPageNum
	end   sv39.PhysPageNum

	// mu protects the fields below.
	mu sync.Mutex

	// current is the lowest page that has never been handed out.
	current sv39.PhysPageNum

	// recycled holds released pages; the last element is reused first.
	recycled []sv39.PhysPageNum

	// allocated has bit (ppn - start) set iff ppn is currently handed out.
	allocated bitmap.Bitmap
}

// New returns an Allocator managing [start, end), whose pages must lie in
// mem. An empty range is permitted; every allocation from it fails.
func New(mem *physmem.Memory, start, end sv39.PhysPageNum) (*Allocator, error) {
	if start > end {
		return nil, fmt.Errorf("pgalloc: invalid range [%v, %v)", start, end)
	}
	if start < end && (!mem.ContainsPage(start) || !mem.ContainsPage(end-1)) {
		return nil, fmt.Errorf("pgalloc: range [%v, %v) outside physical memory [%v, %v)", start, end, mem.Start(), mem.End())
	}
	log.Debugf("Frame allocator managing [%v, %v), %d frames", start, end, end-start)
	return &Allocator{
		mem:       mem,
		start:     start,
		end:       end,
		current:   start,
		allocated: bitmap.New(uint64(end - start)),
	}, nil
}

// Memory returns the physical memory frames are taken from.
func (a *Allocator) Memory() *physmem.Memory {
	return a.mem
}

// Alloc takes a zero-filled frame. It returns memerr.ErrOutOfMemory if no
// page is available.
func (a *Allocator) Alloc() (*Frame, error) {
	a.mu.Lock()
	var ppn sv39.PhysPageNum
	switch {
	case len(a.recycled) > 0:
		ppn = a.recycled[len(a.recycled)-1]
		a.recycled = a.recycled[:len(a.recycled)-1]
	case a.current < a.end:
		ppn = a.current
		a.current++
	default:
		a.mu.Unlock()
		return nil, memerr.ErrOutOfMemory
	}
	if !a.allocated.Add(uint64(ppn - a.start)) {
		a.mu.Unlock()
		panic(fmt.Sprintf("pgalloc: frame %v handed out twice", ppn))
	}
	a.mu.Unlock()

	a.mem.ZeroPage(ppn)
	framesAllocated.Increment()
	return &Frame{ppn: ppn, alloc: a}, nil
}

// Dealloc returns ppn to the allocator. It panics if ppn lies outside the
// managed range or is not currently allocated.
func (a *Allocator) Dealloc(ppn sv39.PhysPageNum) {
	if ppn < a.start || ppn >= a.end {
		panic(fmt.Sprintf("pgalloc: dealloc of frame %v outside [%v, %v)", ppn, a.start, a.end))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.allocated.Remove(uint64(ppn - a.start)) {
		panic(fmt.Sprintf("pgalloc: dealloc of frame %v which is not allocated", ppn))
	}
	a.recycled = append(a.recycled, ppn)
	framesReleased.Increment()
}

// Stats describes the state of an Allocator.
type Stats struct {
	// Total is the number of frames in the managed range.
	Total uint64

	// Allocated is the number of frames currently handed out.
	Allocated uint64

	// Recycled is the number of released frames awaiting reuse.
	Recycled uint64

	// Untouched is the number of frames never handed out.
	Untouched uint64
}

// Free returns the number of frames that can still be allocated.
func (s Stats) Free() uint64 {
	return s.Recycled + s.Untouched
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Total:     uint64(a.end - a.start),
		Allocated: a.allocated.Count(),
		Recycled:  uint64(len(a.recycled)),
		Untouched: uint64(a.end - a.current),
	}
}
