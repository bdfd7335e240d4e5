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

package syscalls

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/memfs"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/usermem"
)

// scratch is a user mapping created for each test process.
const (
	scratch     = 0x40000000
	scratchSize = 0x4000
)

func errno(e unix.Errno) int64 {
	return -int64(e)
}

func testImage() *mm.Image {
	return &mm.Image{
		Entry:    0x10000,
		Segments: []mm.Segment{{Addr: 0x10000, MemSize: 0x1000, Data: []byte{0x73}, Perm: mm.PermRX}},
	}
}

type testEnv struct {
	k  *kernel.Kernel
	p  *kernel.Process
	fs *memfs.Filesystem
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c := config.Default()
	c.MemoryEnd = 0x80400000
	c.MaxCStringLen = 64
	fs := memfs.New()
	k, err := kernel.Boot(c, fs)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() {
		if err := k.Shutdown(); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	p, err := k.Spawn(testImage())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if ret := Mmap(p, scratch, scratchSize, ProtRead|ProtWrite); ret != 0 {
		t.Fatalf("Mmap scratch = %d", ret)
	}
	return &testEnv{k: k, p: p, fs: fs}
}

func (e *testEnv) buffer(t *testing.T, addr, n uint64) usermem.UserBuffer {
	t.Helper()
	tok, ok := e.p.Token()
	if !ok {
		t.Fatalf("process has exited")
	}
	buf, err := usermem.TranslateBytes(e.k.Memory(), tok, sv39.VirtAddr(addr), n)
	if err != nil {
		t.Fatalf("TranslateBytes(%#x, %d): %v", addr, n, err)
	}
	return buf
}

// poke copies data into user memory at addr.
func (e *testEnv) poke(t *testing.T, addr uint64, data string) {
	t.Helper()
	e.buffer(t, addr, uint64(len(data))).CopyOut([]byte(data))
}

// peek returns n bytes of user memory at addr.
func (e *testEnv) peek(t *testing.T, addr, n uint64) string {
	t.Helper()
	return string(e.buffer(t, addr, n).Bytes())
}

func (e *testEnv) install(t *testing.T, f kernel.File) int32 {
	t.Helper()
	var fd int32
	err := e.p.With(func(s *kernel.ProcessState) error {
		var err error
		fd, err = s.Files.Alloc(f)
		return err
	})
	if err != nil {
		t.Fatalf("installing file: %v", err)
	}
	return fd
}

func TestMmapMunmap(t *testing.T) {
	e := newTestEnv(t)
	before := e.k.Frames().Stats().Allocated

	// Within the page table leaf of the scratch mapping, so that no page
	// table nodes are added.
	const start = scratch + 0x10000
	if ret := Mmap(e.p, start, 0x2800, ProtRead|ProtWrite); ret != 0 {
		t.Fatalf("Mmap = %d, want 0", ret)
	}
	if got := e.k.Frames().Stats().Allocated; got < before+3 {
		t.Errorf("%d frames allocated after mapping 3 pages, had %d", got, before)
	}
	e.poke(t, start+0x2ffe, "ok")

	for _, tc := range []struct {
		name                string
		start, length, prot uint64
		want                int64
	}{
		{"overlap", start+0x1000, 0x1000, ProtRead, errno(unix.EEXIST)},
		{"zero prot", scratch+0x20000, 0x1000, 0, errno(unix.EINVAL)},
		{"unknown prot", scratch+0x20000, 0x1000, ProtRead | 8, errno(unix.EINVAL)},
		{"write only", scratch+0x20000, 0x1000, ProtWrite, errno(unix.EINVAL)},
		{"unaligned", scratch+0x20010, 0x1000, ProtRead, errno(unix.EINVAL)},
		{"zero length", scratch+0x20000, 0, ProtRead, errno(unix.EINVAL)},
		{"non-canonical", 1 << 40, 0x1000, ProtRead, errno(unix.EFAULT)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Mmap(e.p, tc.start, tc.length, tc.prot); got != tc.want {
				t.Errorf("Mmap(%#x, %#x, %#x) = %d, want %d", tc.start, tc.length, tc.prot, got, tc.want)
			}
		})
	}

	if ret := Munmap(e.p, start, 0x1000); ret != errno(unix.EINVAL) {
		t.Errorf("Munmap of part of a mapping = %d, want %d", ret, errno(unix.EINVAL))
	}
	if ret := Munmap(e.p, start, 0x2800); ret != 0 {
		t.Errorf("Munmap = %d, want 0", ret)
	}
	if got := e.k.Frames().Stats().Allocated; got > before {
		t.Errorf("%d frames allocated after munmap, want at most %d", got, before)
	}
	if ret := Munmap(e.p, start, 0x2800); ret != errno(unix.EINVAL) {
		t.Errorf("second Munmap = %d, want %d", ret, errno(unix.EINVAL))
	}
}

func TestWriteConsole(t *testing.T) {
	e := newTestEnv(t)
	var out bytes.Buffer
	fd := e.install(t, memfs.NewConsole(nil, &out))

	// The message straddles a page boundary.
	const msg = "hello, world"
	addr := uint64(scratch + 0x1000 - 5)
	e.poke(t, addr, msg)
	if ret := Write(e.p, fd, addr, uint64(len(msg))); ret != int64(len(msg)) {
		t.Fatalf("Write = %d, want %d", ret, len(msg))
	}
	if got := out.String(); got != msg {
		t.Errorf("console output = %q, want %q", got, msg)
	}
	if ret := Read(e.p, fd, addr, 1); ret != errno(unix.EBADF) {
		t.Errorf("Read of output console = %d, want %d", ret, errno(unix.EBADF))
	}
	if ret := Write(e.p, fd, scratch+scratchSize-4, 8); ret != errno(unix.EFAULT) {
		t.Errorf("Write past the mapping = %d, want %d", ret, errno(unix.EFAULT))
	}
	if ret := Write(e.p, fd, 1<<40, 8); ret != errno(unix.EFAULT) {
		t.Errorf("Write from a non-canonical pointer = %d, want %d", ret, errno(unix.EFAULT))
	}
}

func TestReadConsole(t *testing.T) {
	e := newTestEnv(t)
	fd := e.install(t, memfs.NewConsole(strings.NewReader("typed"), nil))
	addr := uint64(scratch + 0x2000 - 2)
	if ret := Read(e.p, fd, addr, 16); ret != 5 {
		t.Fatalf("Read = %d, want 5", ret)
	}
	if got := e.peek(t, addr, 5); got != "typed" {
		t.Errorf("user memory = %q, want %q", got, "typed")
	}
}

func TestOpenReadWriteClose(t *testing.T) {
	e := newTestEnv(t)
	const (
		path = scratch
		data = scratch + 0x0ff0
	)
	e.poke(t, path, "notes\x00")
	e.poke(t, data, "some text across pages")

	if ret := Open(e.p, path, uint32(kernel.ORdOnly)); ret != errno(unix.ENOENT) {
		t.Errorf("Open of missing file = %d, want %d", ret, errno(unix.ENOENT))
	}
	fd := Open(e.p, path, uint32(kernel.OWrOnly|kernel.OCreate))
	if fd != 0 {
		t.Fatalf("Open = %d, want descriptor 0", fd)
	}
	if ret := Write(e.p, int32(fd), data, 22); ret != 22 {
		t.Fatalf("Write = %d, want 22", ret)
	}
	if ret := Read(e.p, int32(fd), data, 22); ret != errno(unix.EBADF) {
		t.Errorf("Read of write-only file = %d, want %d", ret, errno(unix.EBADF))
	}

	rfd := Open(e.p, path, uint32(kernel.ORdOnly))
	if rfd != 1 {
		t.Fatalf("Open = %d, want descriptor 1", rfd)
	}
	dst := uint64(scratch + 0x2ffa)
	if ret := Read(e.p, int32(rfd), dst, 64); ret != 22 {
		t.Fatalf("Read = %d, want 22", ret)
	}
	if got := e.peek(t, dst, 22); got != "some text across pages" {
		t.Errorf("read back %q", got)
	}
	if ret := Write(e.p, int32(rfd), data, 1); ret != errno(unix.EBADF) {
		t.Errorf("Write of read-only file = %d, want %d", ret, errno(unix.EBADF))
	}

	if ret := Close(e.p, int32(fd)); ret != 0 {
		t.Errorf("Close = %d, want 0", ret)
	}
	if ret := Close(e.p, int32(fd)); ret != errno(unix.EBADF) {
		t.Errorf("second Close = %d, want %d", ret, errno(unix.EBADF))
	}
	if ret := Write(e.p, int32(fd), data, 1); ret != errno(unix.EBADF) {
		t.Errorf("Write to closed fd = %d, want %d", ret, errno(unix.EBADF))
	}
	// The lowest free descriptor is reused.
	if got := Open(e.p, path, uint32(kernel.ORdWr)); got != fd {
		t.Errorf("Open = %d, want reused descriptor %d", got, fd)
	}
}

func TestOpenBadPath(t *testing.T) {
	e := newTestEnv(t)
	e.poke(t, scratch, strings.Repeat("a", 100))
	if ret := Open(e.p, scratch, uint32(kernel.OCreate)); ret != errno(unix.ENAMETOOLONG) {
		t.Errorf("Open of an unterminated path = %d, want %d", ret, errno(unix.ENAMETOOLONG))
	}
	if ret := Open(e.p, 0x30000000, uint32(kernel.OCreate)); ret != errno(unix.EFAULT) {
		t.Errorf("Open of an unmapped path = %d, want %d", ret, errno(unix.EFAULT))
	}
	// The string runs off the end of the mapping.
	e.poke(t, scratch+scratchSize-3, "abc")
	if ret := Open(e.p, scratch+scratchSize-3, uint32(kernel.OCreate)); ret != errno(unix.EFAULT) {
		t.Errorf("Open of a truncated path = %d, want %d", ret, errno(unix.EFAULT))
	}
}

func TestFstat(t *testing.T) {
	e := newTestEnv(t)
	e.poke(t, scratch, "file\x00")
	fd := Open(e.p, scratch, uint32(kernel.ORdWr|kernel.OCreate))
	if fd < 0 {
		t.Fatalf("Open = %d", fd)
	}
	st := uint64(scratch + 0x1000)
	if ret := Fstat(e.p, int32(fd), st); ret != 0 {
		t.Fatalf("Fstat = %d, want 0", ret)
	}
	tok, _ := e.p.Token()
	ref, err := usermem.TranslateRef[kernel.Stat](e.k.Memory(), tok, sv39.VirtAddr(st))
	if err != nil {
		t.Fatalf("TranslateRef: %v", err)
	}
	if got := ref.Load(); got.Ino != 1 || got.Mode != kernel.ModeFile || got.Nlink != 1 {
		t.Errorf("stat = %+v, want inode 1, regular file, 1 link", got)
	}

	if ret := Fstat(e.p, int32(fd), scratch+0x1000-8); ret != errno(unix.EFAULT) {
		t.Errorf("Fstat across a page boundary = %d, want %d", ret, errno(unix.EFAULT))
	}
	if ret := Fstat(e.p, int32(fd), 0x30000000); ret != errno(unix.EFAULT) {
		t.Errorf("Fstat to unmapped memory = %d, want %d", ret, errno(unix.EFAULT))
	}
	if ret := Fstat(e.p, 42, st); ret != errno(unix.EBADF) {
		t.Errorf("Fstat of a bad fd = %d, want %d", ret, errno(unix.EBADF))
	}
}

func TestLinkUnlink(t *testing.T) {
	e := newTestEnv(t)
	const (
		a = scratch
		b = scratch + 0x100
	)
	e.poke(t, a, "a\x00")
	e.poke(t, b, "b\x00")
	if fd := Open(e.p, a, uint32(kernel.OCreate)); fd < 0 {
		t.Fatalf("Open = %d", fd)
	}

	if ret := Linkat(e.p, a, a); ret != errno(unix.EEXIST) {
		t.Errorf("Linkat to itself = %d, want %d", ret, errno(unix.EEXIST))
	}
	if ret := Linkat(e.p, a, b); ret != 0 {
		t.Fatalf("Linkat = %d, want 0", ret)
	}
	if ret := Linkat(e.p, a, b); ret != errno(unix.EEXIST) {
		t.Errorf("second Linkat = %d, want %d", ret, errno(unix.EEXIST))
	}
	if ret := Unlinkat(e.p, a); ret != 0 {
		t.Fatalf("Unlinkat = %d, want 0", ret)
	}
	if ret := Unlinkat(e.p, a); ret != errno(unix.ENOENT) {
		t.Errorf("second Unlinkat = %d, want %d", ret, errno(unix.ENOENT))
	}
	if got := e.fs.Names(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Names() = %v, want [b]", got)
	}
	if fd := Open(e.p, b, uint32(kernel.ORdOnly)); fd < 0 {
		t.Errorf("Open of the link = %d", fd)
	}
}

func TestSbrk(t *testing.T) {
	e := newTestEnv(t)
	var bottom sv39.VirtAddr
	e.p.With(func(s *kernel.ProcessState) error {
		bottom = s.Layout.HeapBottom
		return nil
	})

	if got := Sbrk(e.p, 0); got != int64(bottom) {
		t.Fatalf("Sbrk(0) = %#x, want %#x", got, bottom)
	}
	if got := Sbrk(e.p, 0x1800); got != int64(bottom) {
		t.Fatalf("Sbrk(0x1800) = %#x, want %#x", got, bottom)
	}
	e.poke(t, uint64(bottom)+0x17ff, "x")
	if got := Sbrk(e.p, -0x800); got != int64(bottom)+0x1800 {
		t.Fatalf("Sbrk(-0x800) = %#x, want %#x", got, uint64(bottom)+0x1800)
	}
	if got := Sbrk(e.p, -0x2000); got != errno(unix.EINVAL) {
		t.Errorf("Sbrk below the heap = %d, want %d", got, errno(unix.EINVAL))
	}
	if got := Sbrk(e.p, -0x1000); got != int64(bottom)+0x1000 {
		t.Fatalf("Sbrk(-0x1000) = %#x, want %#x", got, uint64(bottom)+0x1000)
	}
	tok, _ := e.p.Token()
	if _, err := usermem.TranslateBytes(e.k.Memory(), tok, bottom, 1); err == nil {
		t.Errorf("heap page still mapped after shrinking to the bottom")
	}
}

func TestExitedProcess(t *testing.T) {
	e := newTestEnv(t)
	if err := e.k.Exit(e.p); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if ret := Mmap(e.p, scratch+0x20000, 0x1000, ProtRead); ret != errno(unix.ESRCH) {
		t.Errorf("Mmap after exit = %d, want %d", ret, errno(unix.ESRCH))
	}
	if ret := Write(e.p, 0, scratch, 1); ret != errno(unix.ESRCH) {
		t.Errorf("Write after exit = %d, want %d", ret, errno(unix.ESRCH))
	}
}

func TestMunmapFixedRegions(t *testing.T) {
	e := newTestEnv(t)
	var layout mm.UserLayout
	var trap sv39.PhysPageNum
	e.p.With(func(s *kernel.ProcessState) error {
		layout = s.Layout
		trap, _ = s.Space.TrapContextPPN()
		return nil
	})
	before := e.k.Frames().Stats().Allocated

	if ret := Munmap(e.p, mm.TrapContext.Uint64(), sv39.PageSize); ret != errno(unix.EINVAL) {
		t.Errorf("Munmap(trap context) = %d, want %d", ret, errno(unix.EINVAL))
	}
	if ret := Munmap(e.p, uint64(layout.StackBottom), uint64(layout.StackTop-layout.StackBottom)); ret != errno(unix.EINVAL) {
		t.Errorf("Munmap(stack) = %d, want %d", ret, errno(unix.EINVAL))
	}
	if ret := Munmap(e.p, 0x10000, sv39.PageSize); ret != errno(unix.EINVAL) {
		t.Errorf("Munmap(text) = %d, want %d", ret, errno(unix.EINVAL))
	}
	e.p.With(func(s *kernel.ProcessState) error {
		if got, ok := s.Space.TrapContextPPN(); !ok || got != trap {
			t.Errorf("TrapContextPPN() = %v, %t; want %v, true", got, ok, trap)
		}
		return nil
	})
	if got := e.k.Frames().Stats().Allocated; got != before {
		t.Errorf("allocated frames = %d, want %d", got, before)
	}
}

func TestSbrkWithMappingAtHeapBottom(t *testing.T) {
	e := newTestEnv(t)
	var hb uint64
	e.p.With(func(s *kernel.ProcessState) error {
		hb = uint64(s.Layout.HeapBottom)
		return nil
	})

	if ret := Mmap(e.p, hb, sv39.PageSize, ProtRead|ProtWrite); ret != 0 {
		t.Fatalf("Mmap(heap bottom) = %d", ret)
	}
	if ret := Sbrk(e.p, 0x2000); ret != errno(unix.EEXIST) {
		t.Errorf("Sbrk into mapping = %#x, want %d", ret, errno(unix.EEXIST))
	}
	if ret := Munmap(e.p, hb, sv39.PageSize); ret != 0 {
		t.Fatalf("Munmap(heap bottom) = %d", ret)
	}
	if ret := Sbrk(e.p, 0x2000); ret != int64(hb) {
		t.Fatalf("Sbrk(0x2000) = %#x, want %#x", ret, hb)
	}
	e.poke(t, hb+0x1fff, "y")
	if ret := Munmap(e.p, hb, 0x2000); ret != errno(unix.EINVAL) {
		t.Errorf("Munmap(heap) = %d, want %d", ret, errno(unix.EINVAL))
	}
}

// gateFile blocks in Read until release is closed, then fills the buffer.
type gateFile struct {
	entered chan struct{}
	release chan struct{}
}

func (*gateFile) Readable() bool                        { return true }
func (*gateFile) Writable() bool                        { return false }
func (*gateFile) Write(usermem.UserBuffer) (int, error) { return 0, nil }
func (*gateFile) Stat() (kernel.Stat, error)            { return kernel.Stat{}, nil }

func (f *gateFile) Read(dst usermem.UserBuffer) (int, error) {
	close(f.entered)
	<-f.release
	return dst.CopyOut(bytes.Repeat([]byte{'z'}, int(dst.Len()))), nil
}

func TestReadOutlivesExit(t *testing.T) {
	e := newTestEnv(t)
	f := &gateFile{entered: make(chan struct{}), release: make(chan struct{})}
	fd := e.install(t, f)
	token, _ := e.p.Token()

	done := make(chan int64)
	go func() {
		done <- Read(e.p, fd, scratch, 16)
	}()
	<-f.entered
	if err := e.k.Exit(e.p); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	q, err := e.k.Spawn(testImage())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if qToken, _ := q.Token(); qToken == token {
		t.Errorf("new process got token %v of a space with a read in flight", token)
	}
	spawned := e.k.Frames().Stats().Allocated

	close(f.release)
	if got := <-done; got != 16 {
		t.Errorf("Read = %d, want 16", got)
	}
	if got := e.k.Frames().Stats().Allocated; got >= spawned {
		t.Errorf("allocated = %d after the read finished, want fewer than %d", got, spawned)
	}
	if ret := Read(e.p, fd, scratch, 16); ret != errno(unix.ESRCH) {
		t.Errorf("Read after exit = %d, want %d", ret, errno(unix.ESRCH))
	}
}
