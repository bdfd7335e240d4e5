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

// Package physmem provides the simulated physical memory of the machine.
//
// Memory is the single accessor through which every other package reads and
// writes physical memory: page table nodes, frame contents and the user
// buffers handed to system calls. Every access is bounds checked against the
// range of physical pages the Memory was created with.
package physmem

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/sv39"
)

// Memory is a contiguous range of physical pages backed by an anonymous host
// mapping.
type Memory struct {
	// start is the first physical page backed by data.
	start sv39.PhysPageNum

	// end is one past the last physical page backed by data.
	end sv39.PhysPageNum

	// data holds the page contents; len(data) == (end-start)*PageSize.
	data []byte
}

// New returns Memory backing physical pages [start, end).
func New(start, end sv39.PhysPageNum) (*Memory, error) {
	if start >= end {
		return nil, fmt.Errorf("physmem: empty range [%#x, %#x)", uint64(start), uint64(end))
	}
	size := uint64(end-start) * sv39.PageSize
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("physmem: mapping %d bytes: %w", size, err)
	}
	return &Memory{start: start, end: end, data: data}, nil
}

// Release unmaps the backing memory. The Memory must not be used afterwards.
func (m *Memory) Release() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Start returns the first backed physical page.
func (m *Memory) Start() sv39.PhysPageNum {
	return m.start
}

// End returns one past the last backed physical page.
func (m *Memory) End() sv39.PhysPageNum {
	return m.end
}

// ContainsPage returns true if ppn is backed by m.
func (m *Memory) ContainsPage(ppn sv39.PhysPageNum) bool {
	return m.start <= ppn && ppn < m.end
}

// Contains returns true if [pa, pa+n) is backed by m.
func (m *Memory) Contains(pa sv39.PhysAddr, n uint64) bool {
	lo := uint64(m.start.Addr())
	hi := uint64(m.end.Addr())
	end := uint64(pa) + n
	return uint64(pa) >= lo && end >= uint64(pa) && end <= hi
}

// Slice returns the n bytes of physical memory starting at pa. The returned
// slice aliases physical memory.
func (m *Memory) Slice(pa sv39.PhysAddr, n uint64) ([]byte, error) {
	if !m.Contains(pa, n) {
		return nil, fmt.Errorf("physmem: range [%#x, %#x) outside [%#x, %#x)", uint64(pa), uint64(pa)+n, uint64(m.start.Addr()), uint64(m.end.Addr()))
	}
	off := uint64(pa) - uint64(m.start.Addr())
	return m.data[off : off+n : off+n], nil
}

// Page returns the contents of physical page ppn.
//
// Preconditions: m.ContainsPage(ppn). Kernel structures only ever point at
// backed pages, so violating this is a kernel fault.
func (m *Memory) Page(ppn sv39.PhysPageNum) []byte {
	b, err := m.Slice(ppn.Addr(), sv39.PageSize)
	if err != nil {
		panic(err.Error())
	}
	return b
}

// ZeroPage clears physical page ppn.
func (m *Memory) ZeroPage(ppn sv39.PhysPageNum) {
	clear(m.Page(ppn))
}

// LoadPTE returns entry idx of the page table node in page ppn.
func (m *Memory) LoadPTE(ppn sv39.PhysPageNum, idx uint64) sv39.PTE {
	return sv39.PTE(binary.LittleEndian.Uint64(m.entry(ppn, idx)))
}

// StorePTE sets entry idx of the page table node in page ppn.
func (m *Memory) StorePTE(ppn sv39.PhysPageNum, idx uint64, pte sv39.PTE) {
	binary.LittleEndian.PutUint64(m.entry(ppn, idx), uint64(pte))
}

func (m *Memory) entry(ppn sv39.PhysPageNum, idx uint64) []byte {
	if idx >= sv39.EntriesPerTable {
		panic(fmt.Sprintf("physmem: page table index %d out of range", idx))
	}
	off := idx * sv39.EntrySize
	return m.Page(ppn)[off : off+sv39.EntrySize]
}
