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

package memfs

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/usermem"
)

func mustOpen(t *testing.T, fs *Filesystem, name string, flags kernel.OpenFlags) kernel.File {
	t.Helper()
	f, err := fs.Open(name, flags)
	if err != nil {
		t.Fatalf("Open(%q, %#x): %v", name, flags, err)
	}
	return f
}

func write(t *testing.T, f kernel.File, s string) {
	t.Helper()
	n, err := f.Write(usermem.BytesBuffer([]byte(s)))
	if err != nil || n != len(s) {
		t.Fatalf("Write(%q) = %d, %v", s, n, err)
	}
}

func read(t *testing.T, f kernel.File, n int) string {
	t.Helper()
	// Split the destination to exercise scattered reads.
	a, b := make([]byte, n/2), make([]byte, n-n/2)
	got, err := f.Read(usermem.BytesBuffer(a, b))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return string(append(a, b...)[:got])
}

func TestOpenMissing(t *testing.T) {
	fs := New()
	for _, name := range []string{"", "missing"} {
		if _, err := fs.Open(name, kernel.ORdOnly); !errors.Is(err, memerr.ErrNoEntry) {
			t.Errorf("Open(%q) = %v, want %v", name, err, memerr.ErrNoEntry)
		}
	}
}

func TestWriteRead(t *testing.T) {
	fs := New()
	w := mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OCreate)
	write(t, w, "hello, ")
	write(t, w, "world")

	r := mustOpen(t, fs, "file", kernel.ORdOnly)
	if got := read(t, r, 5); got != "hello" {
		t.Errorf("first read = %q, want %q", got, "hello")
	}
	if got := read(t, r, 64); got != ", world" {
		t.Errorf("second read = %q, want %q", got, ", world")
	}
	if got := read(t, r, 64); got != "" {
		t.Errorf("read at EOF = %q, want empty", got)
	}
}

func TestAccessMode(t *testing.T) {
	fs := New()
	w := mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OCreate)
	if w.Readable() || !w.Writable() {
		t.Errorf("write-only file: readable %t, writable %t", w.Readable(), w.Writable())
	}
	if _, err := w.Read(usermem.BytesBuffer(make([]byte, 1))); !errors.Is(err, memerr.ErrBadFD) {
		t.Errorf("Read of write-only file = %v, want %v", err, memerr.ErrBadFD)
	}
	r := mustOpen(t, fs, "file", kernel.ORdOnly)
	if _, err := r.Write(usermem.BytesBuffer([]byte("x"))); !errors.Is(err, memerr.ErrBadFD) {
		t.Errorf("Write of read-only file = %v, want %v", err, memerr.ErrBadFD)
	}
}

func TestTruncate(t *testing.T) {
	fs := New()
	write(t, mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OCreate), "long contents")
	write(t, mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OTrunc), "short")
	if got := read(t, mustOpen(t, fs, "file", kernel.ORdOnly), 64); got != "short" {
		t.Errorf("contents = %q, want %q", got, "short")
	}

	// A read-only open with OTrunc leaves the contents alone.
	mustOpen(t, fs, "file", kernel.ORdOnly|kernel.OTrunc)
	if got := read(t, mustOpen(t, fs, "file", kernel.ORdOnly), 64); got != "short" {
		t.Errorf("contents = %q, want %q", got, "short")
	}
}

func TestWriteAfterTruncateZeroFills(t *testing.T) {
	fs := New()
	old := mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OCreate)
	write(t, old, "abcdef")
	mustOpen(t, fs, "file", kernel.OWrOnly|kernel.OTrunc)
	write(t, old, "gh")
	got := read(t, mustOpen(t, fs, "file", kernel.ORdOnly), 64)
	if want := "\x00\x00\x00\x00\x00\x00gh"; got != want {
		t.Errorf("contents = %q, want %q", got, want)
	}
}

func TestLinkUnlink(t *testing.T) {
	fs := New()
	f := mustOpen(t, fs, "a", kernel.ORdWr|kernel.OCreate)
	write(t, f, "data")

	if err := fs.Link("a", "b"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	st, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Nlink != 2 || st.Mode != kernel.ModeFile || st.Ino != 1 {
		t.Errorf("Stat() = %+v, want 2 links to file inode 1", st)
	}
	if got := read(t, mustOpen(t, fs, "b", kernel.ORdOnly), 64); got != "data" {
		t.Errorf("contents via link = %q, want %q", got, "data")
	}
	if diff := cmp.Diff([]string{"a", "b"}, fs.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	if err := fs.Link("a", "b"); !errors.Is(err, memerr.ErrExists) {
		t.Errorf("Link onto existing name = %v, want %v", err, memerr.ErrExists)
	}
	if err := fs.Link("c", "d"); !errors.Is(err, memerr.ErrNoEntry) {
		t.Errorf("Link of missing name = %v, want %v", err, memerr.ErrNoEntry)
	}

	if err := fs.Unlink("a"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := fs.Unlink("a"); !errors.Is(err, memerr.ErrNoEntry) {
		t.Errorf("second Unlink = %v, want %v", err, memerr.ErrNoEntry)
	}
	if st, _ := f.Stat(); st.Nlink != 1 {
		t.Errorf("Nlink = %d after unlink, want 1", st.Nlink)
	}
	// The open descriptor still works.
	write(t, f, "!")
	if got := read(t, mustOpen(t, fs, "b", kernel.ORdOnly), 64); got != "data!" {
		t.Errorf("contents = %q, want %q", got, "data!")
	}
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("input"), &out)
	if !c.Readable() || !c.Writable() {
		t.Errorf("console: readable %t, writable %t", c.Readable(), c.Writable())
	}
	write(t, c, "hello")
	if got := out.String(); got != "hello" {
		t.Errorf("output = %q, want %q", got, "hello")
	}
	if got := read(t, c, 3); got != "inp" {
		t.Errorf("read = %q, want %q", got, "inp")
	}
	if got := read(t, c, 16); got != "ut" {
		t.Errorf("read = %q, want %q", got, "ut")
	}
	st, err := c.Stat()
	if err != nil || st.Mode != kernel.ModeNull {
		t.Errorf("Stat() = %+v, %v", st, err)
	}

	wo := NewConsole(nil, &out)
	if wo.Readable() {
		t.Errorf("console without input is readable")
	}
	if _, err := wo.Read(usermem.BytesBuffer(make([]byte, 1))); !errors.Is(err, memerr.ErrBadFD) {
		t.Errorf("Read = %v, want %v", err, memerr.ErrBadFD)
	}
}
