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
	"sync/atomic"
)

// ModeSV39 is the satp MODE field value that selects SV39 translation.
const ModeSV39 = 8

const (
	modeShift = 60
	asidShift = 44
)

// Token is the value written to satp to activate an address space: the
// paging mode in bits 63:60 and the root page table's physical page number
// in bits 43:0.
type Token uint64

// MakeToken returns the SV39 token for the table rooted at root.
func MakeToken(root PhysPageNum) Token {
	return Token(uint64(ModeSV39)<<modeShift | uint64(root)&ppnMask)
}

// Mode returns the paging mode field.
func (t Token) Mode() uint64 {
	return uint64(t) >> modeShift
}

// RootPPN returns the physical page number of the root table.
func (t Token) RootPPN() PhysPageNum {
	return PhysPageNum(uint64(t) & ppnMask)
}

// Valid returns true if t selects SV39 translation.
func (t Token) Valid() bool {
	return t.Mode() == ModeSV39 && (uint64(t)>>asidShift)&0xffff == 0
}

// String implements fmt.Stringer.String.
func (t Token) String() string {
	return fmt.Sprintf("satp:%#x", uint64(t))
}

// Hart models the translation state of the single hardware thread: the satp
// register and the TLB.
type Hart struct {
	satp    atomic.Uint64
	flushes atomic.Uint64
}

// Activate writes t to satp and flushes the TLB, as "csrw satp; sfence.vma"
// does.
func (h *Hart) Activate(t Token) {
	h.satp.Store(uint64(t))
	h.flushes.Add(1)
}

// SATP returns the active token.
func (h *Hart) SATP() Token {
	return Token(h.satp.Load())
}

// TLBFlushes returns the number of full TLB flushes performed.
func (h *Hart) TLBFlushes() uint64 {
	return h.flushes.Load()
}
