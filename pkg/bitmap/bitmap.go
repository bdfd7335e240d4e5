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

// Package bitmap provides a fixed-size set of small integers.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a set of integers in [0, Size()).
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// size is the number of representable entries.
	size uint64

	// bitBlock holds the bits. Each element holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap able to hold [0, size).
func New(size uint64) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the number of representable entries.
func (b *Bitmap) Size() uint64 {
	return b.size
}

// Count returns the number of entries in the Bitmap.
func (b *Bitmap) Count() uint64 {
	return b.numOnes
}

func (b *Bitmap) locate(i uint64) (int, uint64) {
	if i >= b.size {
		panic(fmt.Sprintf("bitmap: index %d out of range [0, %d)", i, b.size))
	}
	return int(i / 64), uint64(1) << (i % 64)
}

// Contains returns true if i is in the Bitmap.
func (b *Bitmap) Contains(i uint64) bool {
	blockNum, mask := b.locate(i)
	return b.bitBlock[blockNum]&mask != 0
}

// Add adds i to the Bitmap. It returns false if i was already present.
func (b *Bitmap) Add(i uint64) bool {
	blockNum, mask := b.locate(i)
	if b.bitBlock[blockNum]&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] |= mask
	b.numOnes++
	return true
}

// Remove removes i from the Bitmap. It returns false if i was not present.
func (b *Bitmap) Remove(i uint64) bool {
	blockNum, mask := b.locate(i)
	if b.bitBlock[blockNum]&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] &^= mask
	b.numOnes--
	return true
}

// FirstOne returns the first set bit from the range [start, ). ok is false if
// there is none.
func (b *Bitmap) FirstOne(start uint64) (bit uint64, ok bool) {
	i, nbit := int(start/64), start%64
	if i >= len(b.bitBlock) {
		return 0, false
	}
	w := b.bitBlock[i] & (^uint64(0) << nbit)
	for {
		if w != 0 {
			return uint64(bits.TrailingZeros64(w) + i*64), true
		}
		i++
		if i == len(b.bitBlock) {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// ToSlice returns the members in ascending order. For example, a bitmap of
// [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint64 {
	out := make([]uint64, 0, b.numOnes)
	for i, block := range b.bitBlock {
		for block != 0 {
			// Extract the lowest set bit.
			j := block & -block
			out = append(out, uint64(i*64+bits.OnesCount64(j-1)))
			block ^= j
		}
	}
	return out
}
