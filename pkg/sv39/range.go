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
	"iter"
)

// VPNRange is the range of virtual page numbers [Start, End).
type VPNRange struct {
	// Start is the first page in the range.
	Start VirtPageNum

	// End is one past the last page in the range.
	End VirtPageNum
}

// NewVPNRange returns the range [start, end).
//
// Preconditions: start <= end.
func NewVPNRange(start, end VirtPageNum) VPNRange {
	if start > end {
		panic(fmt.Sprintf("sv39: invalid range [%#x, %#x)", uint64(start), uint64(end)))
	}
	return VPNRange{Start: start, End: end}
}

// VPNRangeOf returns the smallest page range covering [start, end).
func VPNRangeOf(start, end VirtAddr) VPNRange {
	return NewVPNRange(start.Floor(), end.Ceil())
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	return uint64(r.End - r.Start)
}

// Empty returns true if r contains no pages.
func (r VPNRange) Empty() bool {
	return r.Start == r.End
}

// Contains returns true if vpn is in r.
func (r VPNRange) Contains(vpn VirtPageNum) bool {
	return r.Start <= vpn && vpn < r.End
}

// Intersects returns true if r and o share at least one page.
func (r VPNRange) Intersects(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End && !r.Empty() && !o.Empty()
}

// StartAddr returns the address of the first byte in r.
func (r VPNRange) StartAddr() VirtAddr {
	return r.Start.Addr()
}

// EndAddr returns the address one past the last byte in r.
func (r VPNRange) EndAddr() VirtAddr {
	return r.End.Addr()
}

// All returns an iterator over the pages in r, in ascending order. The
// returned sequence may be ranged over any number of times.
func (r VPNRange) All() iter.Seq[VirtPageNum] {
	return func(yield func(VirtPageNum) bool) {
		for vpn := r.Start; vpn < r.End; vpn++ {
			if !yield(vpn) {
				return
			}
		}
	}
}

// Iterator returns an explicit iterator positioned at the start of r.
func (r VPNRange) Iterator() VPNIterator {
	return VPNIterator{next: r.Start, end: r.End}
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// VPNIterator steps through consecutive page numbers. The zero value is an
// exhausted iterator.
type VPNIterator struct {
	next VirtPageNum
	end  VirtPageNum
}

// Next returns the next page number. ok is false once the range is
// exhausted.
func (it *VPNIterator) Next() (vpn VirtPageNum, ok bool) {
	if it.next >= it.end {
		return 0, false
	}
	vpn = it.next
	it.next++
	return vpn, true
}
