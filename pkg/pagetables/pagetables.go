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

// Package pagetables provides a generic implementation of SV39 page tables.
//
// A PageTables owns its root and intermediate table frames and is the only
// way to create or remove mappings. A View is rebuilt from a token and can
// only read the tables it points at; it never allocates or releases frames,
// since the owner of the address space manages their lifetime.
package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/sync"
)

var tableNodes = metric.MustCreateNewUint64Metric("/memory/page_table_nodes", "Number of page table frames allocated, root included.")

// Slot is a reference to one page table entry in physical memory.
type Slot struct {
	mem   *physmem.Memory
	table sv39.PhysPageNum
	index uint64
}

// Load returns the entry.
func (s Slot) Load() sv39.PTE {
	return s.mem.LoadPTE(s.table, s.index)
}

// Store replaces the entry.
func (s Slot) Store(pte sv39.PTE) {
	s.mem.StorePTE(s.table, s.index, pte)
}

// Table returns the page holding the entry.
func (s Slot) Table() sv39.PhysPageNum {
	return s.table
}

// Index returns the index of the entry within its table.
func (s Slot) Index() uint64 {
	return s.index
}

// String implements fmt.Stringer.
func (s Slot) String() string {
	return fmt.Sprintf("%v[%d]", s.table, s.index)
}

// walk descends from root to the leaf slot of vpn. When an intermediate
// entry is invalid, newTable is called to obtain a zeroed table; a nil
// newTable makes the walk fail instead.
func walk(mem *physmem.Memory, root sv39.PhysPageNum, vpn sv39.VirtPageNum, newTable func() (sv39.PhysPageNum, error)) (Slot, bool, error) {
	if vpn >= sv39.MaxVirtPageNum {
		panic(fmt.Sprintf("pagetables: vpn %v beyond the 39-bit address space", vpn))
	}
	idx := vpn.Indexes()
	table := root
	for level := 0; level < sv39.Levels-1; level++ {
		slot := Slot{mem: mem, table: table, index: idx[level]}
		pte := slot.Load()
		switch {
		case pte.IsTable():
			table = pte.PPN()
			continue
		case pte.Valid():
			// Superpages are never created by this package.
			panic(fmt.Sprintf("pagetables: unexpected leaf %v at level %d for %v", pte, level, vpn))
		case newTable == nil:
			return Slot{}, false, nil
		}
		next, err := newTable()
		if err != nil {
			return Slot{}, false, err
		}
		slot.Store(sv39.NewPTE(next, sv39.FlagV))
		table = next
	}
	return Slot{mem: mem, table: table, index: idx[sv39.Levels-1]}, true, nil
}

// translate returns the leaf entry of vpn if it is valid.
func translate(mem *physmem.Memory, root sv39.PhysPageNum, vpn sv39.VirtPageNum) (sv39.PTE, bool) {
	slot, ok, _ := walk(mem, root, vpn, nil)
	if !ok {
		return 0, false
	}
	pte := slot.Load()
	if !pte.Valid() {
		return 0, false
	}
	return pte, true
}

// translateVA resolves va to the physical address it maps.
func translateVA(mem *physmem.Memory, root sv39.PhysPageNum, va sv39.VirtAddr) (sv39.PhysAddr, bool) {
	pte, ok := translate(mem, root, va.Floor())
	if !ok {
		return 0, false
	}
	return pte.PPN().Addr() + sv39.PhysAddr(va.PageOffset()), true
}

// Mapping is one valid leaf entry.
type Mapping struct {
	VPN   sv39.VirtPageNum
	PPN   sv39.PhysPageNum
	Flags sv39.PTEFlags
}

// String implements fmt.Stringer.
func (m Mapping) String() string {
	return fmt.Sprintf("%v -> %v %v", m.VPN, m.PPN, m.Flags)
}

// visit calls fn for every valid leaf in ascending VPN order, stopping if fn
// returns false.
func visit(mem *physmem.Memory, table sv39.PhysPageNum, level int, prefix uint64, fn func(Mapping) bool) bool {
	for i := uint64(0); i < sv39.EntriesPerTable; i++ {
		pte := mem.LoadPTE(table, i)
		if !pte.Valid() {
			continue
		}
		vpn := prefix<<sv39.LevelBits | i
		if level == sv39.Levels-1 {
			if !fn(Mapping{VPN: sv39.VirtPageNum(vpn), PPN: pte.PPN(), Flags: pte.Flags()}) {
				return false
			}
			continue
		}
		if !pte.IsTable() {
			panic(fmt.Sprintf("pagetables: unexpected leaf %v at level %d", pte, level))
		}
		if !visit(mem, pte.PPN(), level+1, vpn, fn) {
			return false
		}
	}
	return true
}

// PageTables is an owning set of SV39 page tables.
//
// PageTables is safe for concurrent use; a walk that installs intermediate
// tables completes atomically with respect to other operations on the same
// PageTables.
type PageTables struct {
	mem   *physmem.Memory
	alloc *pgalloc.Allocator

	// root is the root table frame. It is immutable until Release.
	root *pgalloc.Frame

	// mu protects the fields below and the table contents.
	mu sync.Mutex

	// nodes holds the intermediate table frames.
	nodes []*pgalloc.Frame

	// released is set by Release.
	released bool
}

// New returns new PageTables with a freshly allocated, empty root.
func New(alloc *pgalloc.Allocator) (*PageTables, error) {
	root, err := alloc.Alloc()
	if err != nil {
		return nil, fmt.Errorf("allocating root page table: %w", err)
	}
	tableNodes.Increment()
	return &PageTables{
		mem:   alloc.Memory(),
		alloc: alloc,
		root:  root,
	}, nil
}

// RootPPN returns the physical page of the root table.
func (p *PageTables) RootPPN() sv39.PhysPageNum {
	return p.root.PPN()
}

// Token returns the satp value activating these tables.
func (p *PageTables) Token() sv39.Token {
	return sv39.MakeToken(p.root.PPN())
}

// View returns a non-owning view of the same tables.
func (p *PageTables) View() View {
	return View{mem: p.mem, root: p.root.PPN()}
}

// newTable allocates an intermediate table.
//
// Precondition: p.mu must be held.
func (p *PageTables) newTable() (sv39.PhysPageNum, error) {
	f, err := p.alloc.Alloc()
	if err != nil {
		return 0, fmt.Errorf("allocating page table: %w", err)
	}
	p.nodes = append(p.nodes, f)
	tableNodes.Increment()
	return f.PPN(), nil
}

func (p *PageTables) checkLive() {
	if p.released {
		panic("pagetables: use after Release")
	}
}

// Find returns the leaf slot of vpn. If an intermediate table is missing
// and create is set, a zeroed table is allocated and installed; otherwise
// Find reports false.
func (p *PageTables) Find(vpn sv39.VirtPageNum, create bool) (Slot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	return p.find(vpn, create)
}

// Precondition: p.mu must be held.
func (p *PageTables) find(vpn sv39.VirtPageNum, create bool) (Slot, bool, error) {
	if create {
		return walk(p.mem, p.root.PPN(), vpn, p.newTable)
	}
	return walk(p.mem, p.root.PPN(), vpn, nil)
}

// Map installs a leaf mapping vpn to ppn with flags; V is always set.
// Intermediate tables are created as needed, and an error is returned only
// if one cannot be allocated.
//
// Mapping a vpn that is already valid is a kernel invariant violation and
// panics.
func (p *PageTables) Map(vpn sv39.VirtPageNum, ppn sv39.PhysPageNum, flags sv39.PTEFlags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	slot, _, err := p.find(vpn, true)
	if err != nil {
		return err
	}
	if old := slot.Load(); old.Valid() {
		panic(fmt.Sprintf("pagetables: %v is mapped before mapping (%v)", vpn, old))
	}
	slot.Store(sv39.NewPTE(ppn, flags|sv39.FlagV))
	return nil
}

// Unmap clears the leaf mapping of vpn.
//
// Unmapping a vpn that is not valid is a kernel invariant violation and
// panics.
func (p *PageTables) Unmap(vpn sv39.VirtPageNum) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	slot, ok, _ := p.find(vpn, false)
	if !ok || !slot.Load().Valid() {
		panic(fmt.Sprintf("pagetables: %v is invalid before unmapping", vpn))
	}
	slot.Store(0)
}

// Translate returns the leaf entry of vpn if it is valid.
func (p *PageTables) Translate(vpn sv39.VirtPageNum) (sv39.PTE, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	return translate(p.mem, p.root.PPN(), vpn)
}

// TranslateVA resolves va to the physical address it maps.
func (p *PageTables) TranslateVA(va sv39.VirtAddr) (sv39.PhysAddr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	return translateVA(p.mem, p.root.PPN(), va)
}

// Mappings calls fn for every valid leaf in ascending VPN order until fn
// returns false.
func (p *PageTables) Mappings(fn func(Mapping) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	visit(p.mem, p.root.PPN(), 0, 0, fn)
}

// Nodes returns the number of table frames owned, root included.
func (p *PageTables) Nodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes) + 1
}

// Release returns every table frame to the allocator. Leaf frames are not
// owned by the tables and are left alone. The tables must not be used
// afterwards.
func (p *PageTables) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkLive()
	p.released = true
	for i := len(p.nodes) - 1; i >= 0; i-- {
		p.nodes[i].Release()
	}
	p.nodes = nil
	p.root.Release()
	log.Debugf("Released page tables rooted at %v", p.root.PPN())
}
