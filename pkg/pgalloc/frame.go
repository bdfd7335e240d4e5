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

package pgalloc

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/sv39/pkg/sv39"
)

// Frame is exclusive ownership of one allocated physical page. The page
// returns to its allocator when Release is called, exactly once.
type Frame struct {
	ppn      sv39.PhysPageNum
	alloc    *Allocator
	released atomic.Bool
}

// PPN returns the physical page number of the frame.
func (f *Frame) PPN() sv39.PhysPageNum {
	return f.ppn
}

// Bytes returns the contents of the frame. The slice aliases physical
// memory and must not be used after Release.
func (f *Frame) Bytes() []byte {
	return f.alloc.mem.Page(f.ppn)
}

// Release returns the frame to its allocator. Releasing a frame twice
// panics.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("pgalloc: frame %v released twice", f.ppn))
	}
	f.alloc.Dealloc(f.ppn)
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("frame %v", f.ppn)
}
