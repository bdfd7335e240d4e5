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

// Package syscalls implements the memory and file system calls of a user
// process. Each call takes the calling process and raw register arguments
// and returns the value placed in the result register: a non-negative
// result on success and -errno on failure.
package syscalls

import (
	"fmt"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/usermem"
)

// Protection bits accepted by Mmap.
const (
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2
)

// pointer converts a raw user pointer, which must be a canonical SV39
// address.
func pointer(addr uint64) (sv39.VirtAddr, error) {
	if !sv39.Canonical(addr) {
		return 0, fmt.Errorf("non-canonical pointer %#x: %w", addr, memerr.ErrUnmappedAccess)
	}
	return sv39.VirtAddrFrom(addr), nil
}

// status converts a result into a register value, logging failures.
func status(t *kernel.Process, name string, n uint64, err error) int64 {
	if err != nil {
		log.Debugf("%v: %s: %v", t, name, err)
		return memerr.ToStatus(err)
	}
	return int64(n)
}

// acquire takes a user reference on the caller's address space and returns
// its token. Views translated with the token stay valid until release is
// called, even if the caller exits meanwhile.
func acquire(t *kernel.Process) (tok sv39.Token, release func(), err error) {
	space, err := t.IncUsers()
	if err != nil {
		return 0, nil, err
	}
	return space.Token(), func() { t.DecUsers(space) }, nil
}

// getFile returns the file at fd. The process guard is released on return,
// before any file I/O.
func getFile(t *kernel.Process, fd int32) (file kernel.File, err error) {
	err = t.With(func(s *kernel.ProcessState) error {
		file, err = s.Files.Get(fd)
		return err
	})
	return file, err
}

// userBuffer translates [addr, addr+n) in the address space of tok.
func userBuffer(t *kernel.Process, tok sv39.Token, addr, n uint64) (usermem.UserBuffer, error) {
	ptr, err := pointer(addr)
	if err != nil {
		return usermem.UserBuffer{}, err
	}
	return usermem.TranslateBytes(t.Memory(), tok, ptr, n)
}

// userString reads the NUL-terminated string at addr.
func userString(t *kernel.Process, addr uint64) (string, error) {
	ptr, err := pointer(addr)
	if err != nil {
		return "", err
	}
	tok, release, err := acquire(t)
	if err != nil {
		return "", err
	}
	defer release()
	return usermem.TranslateCString(t.Memory(), tok, ptr, t.Kernel().Config().MaxCStringLen)
}

// Read implements read(2): it reads up to n bytes from fd into the user
// buffer at buf.
func Read(t *kernel.Process, fd int32, buf, n uint64) int64 {
	ret, err := read(t, fd, buf, n)
	return status(t, "read", ret, err)
}

func read(t *kernel.Process, fd int32, buf, n uint64) (uint64, error) {
	file, err := getFile(t, fd)
	if err != nil {
		return 0, err
	}
	if !file.Readable() {
		return 0, fmt.Errorf("fd %d not open for reading: %w", fd, memerr.ErrBadFD)
	}
	tok, release, err := acquire(t)
	if err != nil {
		return 0, err
	}
	defer release()
	dst, err := userBuffer(t, tok, buf, n)
	if err != nil {
		return 0, err
	}
	done, err := file.Read(dst)
	return uint64(done), err
}

// Write implements write(2): it writes n bytes from the user buffer at buf
// to fd.
func Write(t *kernel.Process, fd int32, buf, n uint64) int64 {
	ret, err := write(t, fd, buf, n)
	return status(t, "write", ret, err)
}

func write(t *kernel.Process, fd int32, buf, n uint64) (uint64, error) {
	file, err := getFile(t, fd)
	if err != nil {
		return 0, err
	}
	if !file.Writable() {
		return 0, fmt.Errorf("fd %d not open for writing: %w", fd, memerr.ErrBadFD)
	}
	tok, release, err := acquire(t)
	if err != nil {
		return 0, err
	}
	defer release()
	src, err := userBuffer(t, tok, buf, n)
	if err != nil {
		return 0, err
	}
	done, err := file.Write(src)
	return uint64(done), err
}

// Open implements open(2): it opens the file named by the string at path
// and returns the new descriptor.
func Open(t *kernel.Process, path uint64, flags uint32) int64 {
	ret, err := open(t, path, kernel.OpenFlags(flags))
	return status(t, "open", ret, err)
}

func open(t *kernel.Process, path uint64, flags kernel.OpenFlags) (uint64, error) {
	name, err := userString(t, path)
	if err != nil {
		return 0, err
	}
	fs, err := t.Kernel().FS()
	if err != nil {
		return 0, err
	}
	file, err := fs.Open(name, flags)
	if err != nil {
		return 0, err
	}
	var fd int32
	err = t.With(func(s *kernel.ProcessState) error {
		fd, err = s.Files.Alloc(file)
		return err
	})
	return uint64(fd), err
}

// Close implements close(2).
func Close(t *kernel.Process, fd int32) int64 {
	err := t.With(func(s *kernel.ProcessState) error {
		_, err := s.Files.Remove(fd)
		return err
	})
	return status(t, "close", 0, err)
}

// Fstat implements fstat(2): it stores the status of fd at the user
// address st.
func Fstat(t *kernel.Process, fd int32, st uint64) int64 {
	return status(t, "fstat", 0, fstat(t, fd, st))
}

func fstat(t *kernel.Process, fd int32, st uint64) error {
	file, err := getFile(t, fd)
	if err != nil {
		return err
	}
	ptr, err := pointer(st)
	if err != nil {
		return err
	}
	tok, release, err := acquire(t)
	if err != nil {
		return err
	}
	defer release()
	ref, err := usermem.TranslateRef[kernel.Stat](t.Memory(), tok, ptr)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		return err
	}
	ref.Store(stat)
	return nil
}

// Linkat implements linkat(2) in the working directory: the string at
// newPath becomes another name of the file named by the string at oldPath.
func Linkat(t *kernel.Process, oldPath, newPath uint64) int64 {
	return status(t, "linkat", 0, linkat(t, oldPath, newPath))
}

func linkat(t *kernel.Process, oldPath, newPath uint64) error {
	if oldPath == newPath {
		return fmt.Errorf("linking a name to itself: %w", memerr.ErrExists)
	}
	oldName, err := userString(t, oldPath)
	if err != nil {
		return err
	}
	newName, err := userString(t, newPath)
	if err != nil {
		return err
	}
	fs, err := t.Kernel().FS()
	if err != nil {
		return err
	}
	return fs.Link(oldName, newName)
}

// Unlinkat implements unlinkat(2) in the working directory.
func Unlinkat(t *kernel.Process, path uint64) int64 {
	return status(t, "unlinkat", 0, unlinkat(t, path))
}

func unlinkat(t *kernel.Process, path uint64) error {
	name, err := userString(t, path)
	if err != nil {
		return err
	}
	fs, err := t.Kernel().FS()
	if err != nil {
		return err
	}
	return fs.Unlink(name)
}

// Mmap maps length bytes of anonymous memory at start with the protection
// prot, a non-empty combination of ProtRead, ProtWrite and ProtExec.
func Mmap(t *kernel.Process, start, length, prot uint64) int64 {
	return status(t, "mmap", 0, mmap(t, start, length, prot))
}

func mmap(t *kernel.Process, start, length, prot uint64) error {
	if prot == 0 || prot&^(ProtRead|ProtWrite|ProtExec) != 0 {
		return fmt.Errorf("prot %#x: %w", prot, memerr.ErrInvalidPerm)
	}
	var perm mm.Perm
	if prot&ProtRead != 0 {
		perm |= mm.PermR
	}
	if prot&ProtWrite != 0 {
		perm |= mm.PermW
	}
	if prot&ProtExec != 0 {
		perm |= mm.PermX
	}
	addr, err := pointer(start)
	if err != nil {
		return err
	}
	return t.With(func(s *kernel.ProcessState) error {
		return s.Space.Mmap(addr, length, perm)
	})
}

// Munmap removes the mapping created by a matching Mmap.
func Munmap(t *kernel.Process, start, length uint64) int64 {
	return status(t, "munmap", 0, munmap(t, start, length))
}

func munmap(t *kernel.Process, start, length uint64) error {
	addr, err := pointer(start)
	if err != nil {
		return err
	}
	return t.With(func(s *kernel.ProcessState) error {
		return s.Space.Munmap(addr, length)
	})
}

// Sbrk moves the program break by incr bytes and returns the previous
// break.
func Sbrk(t *kernel.Process, incr int64) int64 {
	ret, err := sbrk(t, incr)
	return status(t, "sbrk", ret, err)
}

func sbrk(t *kernel.Process, incr int64) (uint64, error) {
	var old sv39.VirtAddr
	err := t.With(func(s *kernel.ProcessState) error {
		old = s.Brk
		newBrk := sv39.VirtAddr(uint64(int64(old) + incr))
		if incr < 0 && (newBrk < s.Layout.HeapBottom || newBrk > old) {
			return fmt.Errorf("break %v below heap %v: %w", newBrk, s.Layout.HeapBottom, memerr.ErrInvalidArgument)
		}
		if incr > 0 && newBrk < old {
			return fmt.Errorf("break %v+%#x overflows: %w", old, incr, memerr.ErrInvalidArgument)
		}
		if incr != 0 {
			if err := s.Space.ResizeHeap(newBrk); err != nil {
				return err
			}
		}
		s.Brk = newBrk
		return nil
	})
	return uint64(old), err
}
