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
	"strings"
)

// PTEFlags are the low eight bits of a page table entry.
type PTEFlags uint8

// Page table entry flags, as laid out by the RISC-V privileged
// specification.
const (
	FlagV PTEFlags = 1 << iota
	FlagR
	FlagW
	FlagX
	FlagU
	FlagG
	FlagA
	FlagD
)

// flagsRWX is the set of flags that marks an entry as a leaf.
const flagsRWX = FlagR | FlagW | FlagX

const ppnShift = 10

var flagNames = [...]byte{'V', 'R', 'W', 'X', 'U', 'G', 'A', 'D'}

// String implements fmt.Stringer.String. Set flags are printed by letter,
// clear flags as '-'.
func (f PTEFlags) String() string {
	var b strings.Builder
	for i, c := range flagNames {
		if f&(1<<i) != 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PTE is a page table entry.
type PTE uint64

// NewPTE returns an entry pointing at ppn with the given flags.
func NewPTE(ppn PhysPageNum, flags PTEFlags) PTE {
	return PTE((uint64(ppn)&ppnMask)<<ppnShift | uint64(flags))
}

// PPN returns the physical page number held in the entry.
func (p PTE) PPN() PhysPageNum {
	return PhysPageNum((uint64(p) >> ppnShift) & ppnMask)
}

// Flags returns the flags of the entry.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p)
}

// Valid returns true if V is set.
func (p PTE) Valid() bool {
	return p.Flags()&FlagV != 0
}

// Readable returns true if R is set.
func (p PTE) Readable() bool {
	return p.Flags()&FlagR != 0
}

// Writable returns true if W is set.
func (p PTE) Writable() bool {
	return p.Flags()&FlagW != 0
}

// Executable returns true if X is set.
func (p PTE) Executable() bool {
	return p.Flags()&FlagX != 0
}

// User returns true if U is set.
func (p PTE) User() bool {
	return p.Flags()&FlagU != 0
}

// IsLeaf returns true if the entry is valid and maps data.
func (p PTE) IsLeaf() bool {
	return p.Valid() && p.Flags()&flagsRWX != 0
}

// IsTable returns true if the entry is valid and points at the next level
// table. A valid entry with R, W and X clear is always a table pointer.
func (p PTE) IsTable() bool {
	return p.Valid() && p.Flags()&flagsRWX == 0
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%#x %s", uint64(p.PPN()), p.Flags())
}
