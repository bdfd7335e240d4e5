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

package kernel

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/usermem"
)

type testFile struct {
	name string
}

func (*testFile) Readable() bool                          { return true }
func (*testFile) Writable() bool                          { return true }
func (*testFile) Read(usermem.UserBuffer) (int, error)    { return 0, nil }
func (*testFile) Write(b usermem.UserBuffer) (int, error) { return int(b.Len()), nil }
func (*testFile) Stat() (Stat, error)                     { return Stat{Mode: ModeFile, Nlink: 1}, nil }

func TestFDTableLowestFree(t *testing.T) {
	var f FDTable
	files := []*testFile{{"a"}, {"b"}, {"c"}}
	for i, file := range files {
		fd, err := f.Alloc(file)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if fd != int32(i) {
			t.Errorf("Alloc() = %d, want %d", fd, i)
		}
	}
	if _, err := f.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if diff := cmp.Diff([]int32{0, 2}, f.FDs()); diff != "" {
		t.Errorf("FDs() mismatch (-want +got):\n%s", diff)
	}
	fd, err := f.Alloc(&testFile{"d"})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if fd != 1 {
		t.Errorf("Alloc() = %d, want the freed descriptor 1", fd)
	}
	got, err := f.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if got.(*testFile).name != "d" {
		t.Errorf("Get(1) = %v, want d", got)
	}
	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}
}

func TestFDTableBadFD(t *testing.T) {
	var f FDTable
	if _, err := f.Alloc(&testFile{"a"}); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for _, fd := range []int32{-1, 1, 100} {
		if _, err := f.Get(fd); !errors.Is(err, memerr.ErrBadFD) {
			t.Errorf("Get(%d) = %v, want %v", fd, err, memerr.ErrBadFD)
		}
		if _, err := f.Remove(fd); !errors.Is(err, memerr.ErrBadFD) {
			t.Errorf("Remove(%d) = %v, want %v", fd, err, memerr.ErrBadFD)
		}
	}
	if _, err := f.Remove(0); err != nil {
		t.Fatalf("Remove(0): %v", err)
	}
	if _, err := f.Remove(0); !errors.Is(err, memerr.ErrBadFD) {
		t.Errorf("second Remove(0) = %v, want %v", err, memerr.ErrBadFD)
	}
}

func TestFDTableFull(t *testing.T) {
	var f FDTable
	file := &testFile{"a"}
	for i := 0; i < MaxFDs; i++ {
		if _, err := f.Alloc(file); err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
	}
	if _, err := f.Alloc(file); !errors.Is(err, memerr.ErrTooManyFiles) {
		t.Errorf("Alloc on a full table = %v, want %v", err, memerr.ErrTooManyFiles)
	}
	if _, err := f.Remove(MaxFDs / 2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fd, err := f.Alloc(file); err != nil || fd != MaxFDs/2 {
		t.Errorf("Alloc() = %d, %v, want %d", fd, err, MaxFDs/2)
	}
	f.RemoveAll()
	if f.Len() != 0 {
		t.Errorf("Len() = %d after RemoveAll", f.Len())
	}
}

func TestOpenFlags(t *testing.T) {
	for _, tc := range []struct {
		flags    OpenFlags
		readable bool
		writable bool
	}{
		{ORdOnly, true, false},
		{OWrOnly, false, true},
		{ORdWr, true, true},
		{OWrOnly | OCreate | OTrunc, false, true},
		{ORdWr | OCreate, true, true},
	} {
		r, w := tc.flags.ReadWrite()
		if r != tc.readable || w != tc.writable {
			t.Errorf("%#x.ReadWrite() = %t, %t, want %t, %t", tc.flags, r, w, tc.readable, tc.writable)
		}
	}
}

func TestStatSize(t *testing.T) {
	if got := usermem.SizeOf[Stat](); got != 80 {
		t.Errorf("SizeOf[Stat]() = %d, want 80", got)
	}
}
