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

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/sv39"
)

// Segment is a loadable piece of a program image.
type Segment struct {
	// Addr is the virtual address of the first byte.
	Addr sv39.VirtAddr

	// MemSize is the size in memory. Bytes past len(Data) are zero.
	MemSize uint64

	// Data is the initial contents.
	Data []byte

	// Perm is the access permission, without PermU.
	Perm Perm
}

// Image is a program ready to be placed in a user address space.
type Image struct {
	Entry    sv39.VirtAddr
	Segments []Segment
}

// UserLayout reports where NewUser placed the parts of a user address space.
type UserLayout struct {
	// Entry is the program entry point.
	Entry sv39.VirtAddr

	// StackBottom and StackTop bound the user stack. A guard page sits
	// below StackBottom.
	StackBottom sv39.VirtAddr
	StackTop    sv39.VirtAddr

	// HeapBottom is the start of the initially empty heap region, moved
	// with ResizeHeap.
	HeapBottom sv39.VirtAddr
}

// NewUser builds a user address space for img: every segment framed with
// PermU added, then a guard page, a stack of stackSize bytes, an empty heap
// region, the trap context page and the trampoline.
func NewUser(alloc *pgalloc.Allocator, trampoline sv39.PhysPageNum, img *Image, stackSize uint64) (*MemorySet, UserLayout, error) {
	if stackSize == 0 || !sv39.IsAligned(stackSize, uint64(sv39.PageSize)) {
		return nil, UserLayout{}, fmt.Errorf("user stack size %#x: %w", stackSize, memerr.ErrUnaligned)
	}
	ms, err := New(alloc)
	if err != nil {
		return nil, UserLayout{}, err
	}
	fail := func(err error) (*MemorySet, UserLayout, error) {
		ms.Release()
		return nil, UserLayout{}, err
	}

	var maxEnd sv39.VirtPageNum
	for i, seg := range img.Segments {
		if uint64(len(seg.Data)) > seg.MemSize {
			return fail(fmt.Errorf("segment %d: %d bytes of data exceed memory size %#x: %w", i, len(seg.Data), seg.MemSize, memerr.ErrInvalidArgument))
		}
		end, ok := seg.Addr.AddLength(seg.MemSize)
		if !ok || end > TrapContext {
			return fail(fmt.Errorf("segment %d at %v+%#x: %w", i, seg.Addr, seg.MemSize, memerr.ErrInvalidArgument))
		}
		perm := seg.Perm | PermU
		if !perm.Valid() {
			return fail(fmt.Errorf("segment %d perm %v: %w", i, seg.Perm, memerr.ErrInvalidPerm))
		}
		r := NewRegion(seg.Addr, end, Framed, perm)
		if err := ms.PushAt(r, seg.Addr.PageOffset(), seg.Data); err != nil {
			return fail(fmt.Errorf("segment %d: %w", i, err))
		}
		maxEnd = max(maxEnd, r.vpns.End)
	}

	// Leave a guard page between the image and the stack.
	stackBottom := (maxEnd + 1).Addr()
	stackTop, ok := stackBottom.AddLength(stackSize)
	if !ok || stackTop > TrapContext {
		return fail(fmt.Errorf("user stack above %v does not fit: %w", stackBottom, memerr.ErrOutOfMemory))
	}
	if err := ms.InsertFramed(stackBottom, stackTop, PermRW|PermU); err != nil {
		return fail(fmt.Errorf("user stack: %w", err))
	}
	heap := NewRegion(stackTop, stackTop, Framed, PermRW|PermU)
	if err := ms.Push(heap, nil); err != nil {
		return fail(fmt.Errorf("user heap: %w", err))
	}
	ms.mu.Lock()
	ms.heap = heap
	ms.mu.Unlock()
	if err := ms.InsertFramed(TrapContext, Trampoline, PermRW); err != nil {
		return fail(fmt.Errorf("trap context: %w", err))
	}
	if err := ms.mapRaw(TrampolineVPN, trampoline, PermRX); err != nil {
		return fail(fmt.Errorf("trampoline: %w", err))
	}
	return ms, UserLayout{
		Entry:       img.Entry,
		StackBottom: stackBottom,
		StackTop:    stackTop,
		HeapBottom:  stackTop,
	}, nil
}

// TrapContextPPN returns the frame backing the trap context page.
func (ms *MemorySet) TrapContextPPN() (sv39.PhysPageNum, bool) {
	pte, ok := ms.Translate(TrapContext.Floor())
	if !ok {
		return 0, false
	}
	return pte.PPN(), true
}
