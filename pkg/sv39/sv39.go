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

// Package sv39 defines the address, page number and page table entry formats
// of the RISC-V SV39 paging scheme.
package sv39

import (
	"golang.org/x/exp/constraints"
)

const (
	// PageShift is the width of the page offset.
	PageShift = 12

	// PageSize is the size of a page.
	PageSize = 1 << PageShift

	// PAWidth is the width of a physical address.
	PAWidth = 56

	// VAWidth is the width of a virtual address.
	VAWidth = 39

	// PPNWidth is the width of a physical page number.
	PPNWidth = PAWidth - PageShift

	// VPNWidth is the width of a virtual page number.
	VPNWidth = VAWidth - PageShift

	// LevelBits is the number of virtual page number bits consumed by each
	// page table level.
	LevelBits = 9

	// Levels is the number of page table levels.
	Levels = 3

	// EntriesPerTable is the number of entries in one page table node.
	EntriesPerTable = 1 << LevelBits

	// EntrySize is the size in bytes of a single page table entry.
	EntrySize = 8
)

const (
	paMask  = (uint64(1) << PAWidth) - 1
	vaMask  = (uint64(1) << VAWidth) - 1
	ppnMask = (uint64(1) << PPNWidth) - 1
	vpnMask = (uint64(1) << VPNWidth) - 1
)

// RoundDown returns v rounded down to a multiple of align.
//
// Preconditions: align is a power of two.
func RoundDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// RoundUp returns v rounded up to a multiple of align. ok is true iff
// rounding up did not wrap around.
//
// Preconditions: align is a power of two.
func RoundUp[T constraints.Unsigned](v, align T) (rounded T, ok bool) {
	rounded = RoundDown(v+align-1, align)
	ok = rounded >= v
	return
}

// IsAligned returns true if v is a multiple of align.
//
// Preconditions: align is a power of two.
func IsAligned[T constraints.Unsigned](v, align T) bool {
	return v&(align-1) == 0
}
