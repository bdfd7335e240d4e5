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

// Package safemem provides scatter-gather views of physical memory.
//
// A Block is a contiguous window of simulated physical memory; a BlockSeq is
// an ordered sequence of Blocks treated as a single byte range. Blocks alias
// the memory they describe: writes through a Block are visible to every
// other Block and page table view of the same bytes.
package safemem

import (
	"fmt"
)

// A Block is a range of contiguous bytes.
//
// Block is immutable; operations return new Blocks.
type Block struct {
	data []byte
}

// BlockFromSlice returns a Block equivalent to the given slice.
func BlockFromSlice(slice []byte) Block {
	return Block{data: slice[:len(slice):len(slice)]}
}

// Len returns b's length in bytes.
func (b Block) Len() int {
	return len(b.data)
}

// ToSlice returns a []byte equivalent to b.
func (b Block) ToSlice() []byte {
	return b.data
}

// DropFirst returns a Block equivalent to b, but with the first n bytes
// omitted. It is analogous to the [n:] operation on a slice, except that if
// n > b.Len(), DropFirst returns an empty Block instead of panicking.
//
// Preconditions: n >= 0.
func (b Block) DropFirst(n int) Block {
	if n < 0 {
		panic(fmt.Sprintf("invalid n: %d", n))
	}
	return b.DropFirst64(uint64(n))
}

// DropFirst64 is equivalent to DropFirst but takes a uint64.
func (b Block) DropFirst64(n uint64) Block {
	if n >= uint64(len(b.data)) {
		return Block{}
	}
	return Block{data: b.data[n:]}
}

// TakeFirst returns a Block equivalent to the first n bytes of b. It is
// analogous to the [:n] operation on a slice, except that if n > b.Len(),
// TakeFirst returns a copy of b instead of panicking.
//
// Preconditions: n >= 0.
func (b Block) TakeFirst(n int) Block {
	if n < 0 {
		panic(fmt.Sprintf("invalid n: %d", n))
	}
	return b.TakeFirst64(uint64(n))
}

// TakeFirst64 is equivalent to TakeFirst but takes a uint64.
func (b Block) TakeFirst64(n uint64) Block {
	if n == 0 {
		return Block{}
	}
	if n >= uint64(len(b.data)) {
		return b
	}
	return Block{data: b.data[:n:n]}
}

// String implements fmt.Stringer.String.
func (b Block) String() string {
	if len(b.data) == 0 {
		return "[empty]"
	}
	return fmt.Sprintf("[%p+%#x]", &b.data[0], len(b.data))
}

// Copy copies src.Len() or dst.Len() bytes, whichever is less, from src
// to dst and returns the number of bytes copied.
func Copy(dst, src Block) (int, error) {
	return copy(dst.data, src.data), nil
}

// Zero sets all bytes in dst to 0 and returns the number of bytes zeroed.
func Zero(dst Block) (int, error) {
	clear(dst.data)
	return len(dst.data), nil
}
