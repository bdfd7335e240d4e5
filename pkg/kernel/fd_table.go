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
	"fmt"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/usermem"
)

// OpenFlags are the flags of an open request.
type OpenFlags uint32

// Open flags.
const (
	ORdOnly OpenFlags = 0
	OWrOnly OpenFlags = 1 << 0
	ORdWr   OpenFlags = 1 << 1
	OCreate OpenFlags = 1 << 9
	OTrunc  OpenFlags = 1 << 10
)

// ReadWrite returns the access mode encoded in f.
func (f OpenFlags) ReadWrite() (readable, writable bool) {
	switch {
	case f&(OWrOnly|ORdWr) == 0:
		return true, false
	case f&OWrOnly != 0:
		return false, true
	default:
		return true, true
	}
}

// StatMode is the file type in Stat.Mode.
type StatMode uint32

// File types.
const (
	ModeNull StatMode = 0
	ModeDir  StatMode = 0o040000
	ModeFile StatMode = 0o100000
)

// Stat is the file status written to user memory by fstat.
type Stat struct {
	// Dev is the containing device.
	Dev uint64

	// Ino is the inode number.
	Ino uint64

	// Mode is the file type.
	Mode StatMode

	// Nlink is the number of hard links.
	Nlink uint32

	_ [7]uint64
}

// File is an open file.
type File interface {
	// Readable and Writable report the access mode the file was opened
	// with.
	Readable() bool
	Writable() bool

	// Read fills buf and returns the number of bytes read.
	Read(buf usermem.UserBuffer) (int, error)

	// Write drains buf and returns the number of bytes written.
	Write(buf usermem.UserBuffer) (int, error)

	// Stat describes the file.
	Stat() (Stat, error)
}

// FS is a flat namespace of files.
type FS interface {
	// Open opens name.
	Open(name string, flags OpenFlags) (File, error)

	// Link makes newName refer to the file named oldName.
	Link(oldName, newName string) error

	// Unlink removes name.
	Unlink(name string) error
}

// MaxFDs is the maximum number of descriptors per process.
const MaxFDs = 1024

// FDTable maps descriptors to open files. It is not synchronized; a
// process's table is guarded by the process.
type FDTable struct {
	files []File
}

// Alloc installs file at the lowest free descriptor.
func (f *FDTable) Alloc(file File) (int32, error) {
	for fd, cur := range f.files {
		if cur == nil {
			f.files[fd] = file
			return int32(fd), nil
		}
	}
	if len(f.files) >= MaxFDs {
		return -1, memerr.ErrTooManyFiles
	}
	f.files = append(f.files, file)
	return int32(len(f.files) - 1), nil
}

// Get returns the file installed at fd.
func (f *FDTable) Get(fd int32) (File, error) {
	if fd < 0 || int(fd) >= len(f.files) || f.files[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, memerr.ErrBadFD)
	}
	return f.files[fd], nil
}

// Remove uninstalls fd and returns its file.
func (f *FDTable) Remove(fd int32) (File, error) {
	file, err := f.Get(fd)
	if err != nil {
		return nil, err
	}
	f.files[fd] = nil
	for len(f.files) > 0 && f.files[len(f.files)-1] == nil {
		f.files = f.files[:len(f.files)-1]
	}
	return file, nil
}

// Len returns the number of installed descriptors.
func (f *FDTable) Len() int {
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}

// FDs returns the installed descriptors in increasing order.
func (f *FDTable) FDs() []int32 {
	var fds []int32
	for fd, file := range f.files {
		if file != nil {
			fds = append(fds, int32(fd))
		}
	}
	return fds
}

// RemoveAll uninstalls every descriptor.
func (f *FDTable) RemoveAll() {
	f.files = nil
}
