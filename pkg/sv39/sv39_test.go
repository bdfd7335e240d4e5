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
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		v       uint64
		down    uint64
		up      uint64
		upOK    bool
		aligned bool
	}{
		{v: 0, down: 0, up: 0, upOK: true, aligned: true},
		{v: 1, down: 0, up: PageSize, upOK: true},
		{v: PageSize, down: PageSize, up: PageSize, upOK: true, aligned: true},
		{v: PageSize + 1, down: PageSize, up: 2 * PageSize, upOK: true},
		{v: ^uint64(0), down: ^uint64(PageSize - 1), up: 0, upOK: false},
	} {
		if got := RoundDown(tc.v, PageSize); got != tc.down {
			t.Errorf("RoundDown(%#x): got %#x, wanted %#x", tc.v, got, tc.down)
		}
		up, ok := RoundUp(tc.v, PageSize)
		if ok != tc.upOK || (ok && up != tc.up) {
			t.Errorf("RoundUp(%#x): got (%#x, %t), wanted (%#x, %t)", tc.v, up, ok, tc.up, tc.upOK)
		}
		if got := IsAligned(tc.v, PageSize); got != tc.aligned {
			t.Errorf("IsAligned(%#x): got %t, wanted %t", tc.v, got, tc.aligned)
		}
	}
}

func TestFloorCeil(t *testing.T) {
	va := VirtAddr(0x10123)
	if got, want := va.Floor(), VirtPageNum(0x10); got != want {
		t.Errorf("Floor: got %v, wanted %v", got, want)
	}
	if got, want := va.Ceil(), VirtPageNum(0x11); got != want {
		t.Errorf("Ceil: got %v, wanted %v", got, want)
	}
	if got, want := va.PageOffset(), uint64(0x123); got != want {
		t.Errorf("PageOffset: got %#x, wanted %#x", got, want)
	}
	if _, ok := va.PageNum(); ok {
		t.Errorf("PageNum of unaligned address succeeded")
	}
	if vpn, ok := VirtAddr(0x10000).PageNum(); !ok || vpn != 0x10 {
		t.Errorf("PageNum(0x10000): got (%v, %t), wanted (vpn:0x10, true)", vpn, ok)
	}
	pa := PhysAddr(0x80200fff)
	if got, want := pa.Floor(), PhysPageNum(0x80200); got != want {
		t.Errorf("Floor: got %v, wanted %v", got, want)
	}
	if got, want := pa.Ceil(), PhysPageNum(0x80201); got != want {
		t.Errorf("Ceil: got %v, wanted %v", got, want)
	}
	if got, want := PhysPageNum(0x80201).Addr(), PhysAddr(0x80201000); got != want {
		t.Errorf("Addr: got %v, wanted %v", got, want)
	}
}

func TestCanonical(t *testing.T) {
	for _, tc := range []struct {
		v    uint64
		want bool
	}{
		{0, true},
		{0x3f_ffff_ffff, true},
		{0x40_0000_0000, false},
		{0xffff_ffc0_0000_0000, true},
		{0xffff_ffff_ffff_f000, true},
		{0x8000_0000_0000_0000, false},
	} {
		if got := Canonical(tc.v); got != tc.want {
			t.Errorf("Canonical(%#x): got %t, wanted %t", tc.v, got, tc.want)
		}
	}
	trampoline := VirtAddrFrom(0xffff_ffff_ffff_f000)
	if got, want := uint64(trampoline), uint64(0x7f_ffff_f000); got != want {
		t.Errorf("VirtAddrFrom: got %#x, wanted %#x", got, want)
	}
	if got, want := trampoline.Uint64(), uint64(0xffff_ffff_ffff_f000); got != want {
		t.Errorf("Uint64: got %#x, wanted %#x", got, want)
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := VirtAddr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength: got (%v, %t), wanted (va:0x3000, true)", end, ok)
	}
	top := VirtAddr(1<<VAWidth - PageSize)
	if _, ok := top.AddLength(PageSize); !ok {
		t.Errorf("AddLength up to the end of the address space failed")
	}
	if _, ok := top.AddLength(PageSize + 1); ok {
		t.Errorf("AddLength past the end of the address space succeeded")
	}
}

func TestIndexes(t *testing.T) {
	vpn := VirtPageNum(0b000000011_000000101_000001001)
	if diff := cmp.Diff([Levels]uint64{3, 5, 9}, vpn.Indexes()); diff != "" {
		t.Errorf("Indexes mismatch (-want +got):\n%s", diff)
	}
	top := MaxVirtPageNum - 1
	if diff := cmp.Diff([Levels]uint64{511, 511, 511}, top.Indexes()); diff != "" {
		t.Errorf("Indexes mismatch (-want +got):\n%s", diff)
	}
}

func TestVPNRange(t *testing.T) {
	r := VPNRangeOf(0x10000, 0x12001)
	if got, want := r, (VPNRange{0x10, 0x13}); got != want {
		t.Fatalf("VPNRangeOf: got %v, wanted %v", got, want)
	}
	want := []VirtPageNum{0x10, 0x11, 0x12}
	// Ranging twice checks the sequence is restartable.
	for i := 0; i < 2; i++ {
		if diff := cmp.Diff(want, slices.Collect(r.All())); diff != "" {
			t.Errorf("All pass %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	it := r.Iterator()
	var got []VirtPageNum
	for vpn, ok := it.Next(); ok; vpn, ok = it.Next() {
		got = append(got, vpn)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Iterator mismatch (-want +got):\n%s", diff)
	}
	if _, ok := it.Next(); ok {
		t.Errorf("exhausted iterator returned a value")
	}
	if r.Len() != 3 || r.Empty() {
		t.Errorf("Len/Empty: got (%d, %t), wanted (3, false)", r.Len(), r.Empty())
	}
	if !r.Contains(0x12) || r.Contains(0x13) {
		t.Errorf("Contains is not half-open")
	}
	for _, tc := range []struct {
		o    VPNRange
		want bool
	}{
		{VPNRange{0x13, 0x20}, false},
		{VPNRange{0x0, 0x10}, false},
		{VPNRange{0x12, 0x13}, true},
		{VPNRange{0x0, 0x100}, true},
		{VPNRange{0x11, 0x11}, false},
	} {
		if got := r.Intersects(tc.o); got != tc.want {
			t.Errorf("%v.Intersects(%v): got %t, wanted %t", r, tc.o, got, tc.want)
		}
	}
}

func TestPTE(t *testing.T) {
	leaf := NewPTE(0x80400, FlagV|FlagR|FlagW|FlagU)
	if leaf.PPN() != 0x80400 {
		t.Errorf("PPN: got %v, wanted ppn:0x80400", leaf.PPN())
	}
	if !leaf.IsLeaf() || leaf.IsTable() {
		t.Errorf("leaf entry classified as table")
	}
	if !leaf.Readable() || !leaf.Writable() || leaf.Executable() || !leaf.User() {
		t.Errorf("leaf flags: got %v", leaf.Flags())
	}
	if got, want := leaf.Flags().String(), "VRW-U---"; got != want {
		t.Errorf("Flags.String: got %q, wanted %q", got, want)
	}
	table := NewPTE(0x80401, FlagV)
	if table.IsLeaf() || !table.IsTable() {
		t.Errorf("table entry classified as leaf")
	}
	if PTE(0).Valid() || PTE(0).IsTable() || PTE(0).IsLeaf() {
		t.Errorf("zero entry is valid")
	}
}

func TestToken(t *testing.T) {
	tok := MakeToken(0x80234)
	if got, want := uint64(tok), uint64(8)<<60|0x80234; got != want {
		t.Errorf("MakeToken: got %#x, wanted %#x", got, want)
	}
	if tok.RootPPN() != 0x80234 || tok.Mode() != ModeSV39 || !tok.Valid() {
		t.Errorf("token fields: root %v mode %d valid %t", tok.RootPPN(), tok.Mode(), tok.Valid())
	}
	if Token(0x80234).Valid() {
		t.Errorf("bare mode token is valid")
	}

	var h Hart
	h.Activate(tok)
	if h.SATP() != tok || h.TLBFlushes() != 1 {
		t.Errorf("Hart: got satp %v flushes %d", h.SATP(), h.TLBFlushes())
	}
}
