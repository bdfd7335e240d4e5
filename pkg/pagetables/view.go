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

package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
)

// View is a read-only view of page tables owned elsewhere. It holds no
// frames and cannot create or remove mappings.
type View struct {
	mem  *physmem.Memory
	root sv39.PhysPageNum
}

// FromToken returns a View of the tables activated by token.
//
// It panics if token does not select SV39 or its root lies outside mem.
func FromToken(mem *physmem.Memory, token sv39.Token) View {
	if !token.Valid() {
		panic(fmt.Sprintf("pagetables: invalid token %v", token))
	}
	if !mem.ContainsPage(token.RootPPN()) {
		panic(fmt.Sprintf("pagetables: token %v root outside physical memory", token))
	}
	return View{mem: mem, root: token.RootPPN()}
}

// Token returns the satp value the view was built from.
func (v View) Token() sv39.Token {
	return sv39.MakeToken(v.root)
}

// ReadOnlySlot is a page table entry reached through a View. It can be
// loaded but not stored.
type ReadOnlySlot struct {
	slot Slot
}

// Load returns the entry.
func (r ReadOnlySlot) Load() sv39.PTE {
	return r.slot.Load()
}

// Table returns the page holding the entry.
func (r ReadOnlySlot) Table() sv39.PhysPageNum {
	return r.slot.table
}

// Index returns the index of the entry within its table.
func (r ReadOnlySlot) Index() uint64 {
	return r.slot.index
}

// String implements fmt.Stringer.
func (r ReadOnlySlot) String() string {
	return r.slot.String()
}

// Find returns the leaf slot of vpn, or false if an intermediate table is
// missing.
func (v View) Find(vpn sv39.VirtPageNum) (ReadOnlySlot, bool) {
	slot, ok, _ := walk(v.mem, v.root, vpn, nil)
	return ReadOnlySlot{slot}, ok
}

// Translate returns the leaf entry of vpn if it is valid.
func (v View) Translate(vpn sv39.VirtPageNum) (sv39.PTE, bool) {
	return translate(v.mem, v.root, vpn)
}

// TranslateVA resolves va to the physical address it maps.
func (v View) TranslateVA(va sv39.VirtAddr) (sv39.PhysAddr, bool) {
	return translateVA(v.mem, v.root, va)
}

// Mappings calls fn for every valid leaf in ascending VPN order until fn
// returns false.
func (v View) Mappings(fn func(Mapping) bool) {
	visit(v.mem, v.root, 0, 0, fn)
}
