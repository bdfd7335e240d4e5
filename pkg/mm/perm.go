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
	"strings"

	"gvisor.dev/sv39/pkg/sv39"
)

// Perm is the set of access permissions of a region. The bits mirror the
// R, W, X and U bits of a leaf page table entry.
type Perm uint8

// Permission bits.
const (
	PermR Perm = Perm(sv39.FlagR)
	PermW Perm = Perm(sv39.FlagW)
	PermX Perm = Perm(sv39.FlagX)
	PermU Perm = Perm(sv39.FlagU)

	// PermRW is the common read-write combination.
	PermRW = PermR | PermW

	// PermRX is the common read-execute combination.
	PermRX = PermR | PermX

	permMask = PermR | PermW | PermX | PermU
)

// Valid returns true if p has at least one of R, W or X set and no bits
// outside R, W, X and U. Write-only pages are reserved by the paging scheme
// and are rejected.
func (p Perm) Valid() bool {
	if p&^permMask != 0 || p&(PermR|PermW|PermX) == 0 {
		return false
	}
	return p&PermW == 0 || p&PermR != 0
}

// PTEFlags returns the leaf entry flags for p, without V.
func (p Perm) PTEFlags() sv39.PTEFlags {
	return sv39.PTEFlags(p & permMask)
}

// String implements fmt.Stringer.
func (p Perm) String() string {
	var b strings.Builder
	for _, c := range []struct {
		bit Perm
		ch  byte
	}{{PermR, 'r'}, {PermW, 'w'}, {PermX, 'x'}, {PermU, 'u'}} {
		if p&c.bit != 0 {
			b.WriteByte(c.ch)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParsePerm parses the letters r, w, x and u, in any order, as the
// corresponding permission bits. '-' is ignored so that the output of
// Perm.String is accepted.
func ParsePerm(s string) (Perm, error) {
	var p Perm
	for _, c := range s {
		switch c {
		case 'r':
			p |= PermR
		case 'w':
			p |= PermW
		case 'x':
			p |= PermX
		case 'u':
			p |= PermU
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q in %q", c, s)
		}
	}
	return p, nil
}

// MapType is the way a region's pages are backed.
type MapType int

const (
	// Identical maps each virtual page to the physical page with the same
	// number. Identical regions own no frames.
	Identical MapType = iota

	// Framed maps each virtual page to a frame allocated for it.
	Framed
)

// String implements fmt.Stringer.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "identical"
	case Framed:
		return "framed"
	default:
		return "unknown"
	}
}
