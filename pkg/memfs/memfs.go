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

// Package memfs provides a flat in-memory filesystem and a console file,
// the file collaborators of the kernel.
//
// Lock order:
//
//	Filesystem.mu
//	  fileDescription.offMu
//	    inode.dataMu
package memfs

import (
	"fmt"
	"io"
	"slices"
	"sync/atomic"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/safemem"
	"gvisor.dev/sv39/pkg/sync"
	"gvisor.dev/sv39/pkg/usermem"
)

type inode struct {
	ino uint64

	// nlink is changed with Filesystem.mu held.
	nlink atomic.Uint32

	dataMu sync.RWMutex
	data   []byte
}

// Filesystem is a flat namespace of regular files.
type Filesystem struct {
	// mu serializes changes to names.
	mu    sync.RWMutex
	names map[string]*inode

	nextIno atomic.Uint64
}

// New returns an empty Filesystem.
func New() *Filesystem {
	return &Filesystem{names: make(map[string]*inode)}
}

// Open implements kernel.FS.Open.
func (fs *Filesystem) Open(name string, flags kernel.OpenFlags) (kernel.File, error) {
	if name == "" {
		return nil, memerr.ErrNoEntry
	}
	readable, writable := flags.ReadWrite()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.names[name]
	switch {
	case ok:
		if flags&kernel.OTrunc != 0 && writable {
			in.dataMu.Lock()
			in.data = in.data[:0]
			in.dataMu.Unlock()
		}
	case flags&kernel.OCreate != 0:
		in = &inode{ino: fs.nextIno.Add(1)}
		in.nlink.Store(1)
		fs.names[name] = in
		log.Debugf("memfs: created %q, inode %d", name, in.ino)
	default:
		return nil, fmt.Errorf("%q: %w", name, memerr.ErrNoEntry)
	}
	return &fileDescription{inode: in, readable: readable, writable: writable}, nil
}

// Link implements kernel.FS.Link.
func (fs *Filesystem) Link(oldName, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.names[oldName]
	if !ok {
		return fmt.Errorf("%q: %w", oldName, memerr.ErrNoEntry)
	}
	if _, ok := fs.names[newName]; ok {
		return fmt.Errorf("%q: %w", newName, memerr.ErrExists)
	}
	fs.names[newName] = in
	in.nlink.Add(1)
	return nil
}

// Unlink implements kernel.FS.Unlink. Open descriptors of the file stay
// usable.
func (fs *Filesystem) Unlink(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.names[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, memerr.ErrNoEntry)
	}
	delete(fs.names, name)
	in.nlink.Add(^uint32(0))
	return nil
}

// Names returns the names in the filesystem in sorted order.
func (fs *Filesystem) Names() []string {
	fs.mu.RLock()
	names := make([]string, 0, len(fs.names))
	for name := range fs.names {
		names = append(names, name)
	}
	fs.mu.RUnlock()
	slices.Sort(names)
	return names
}

// fileDescription is an open regular file.
type fileDescription struct {
	inode    *inode
	readable bool
	writable bool

	offMu sync.Mutex
	off   uint64
}

// Readable implements kernel.File.Readable.
func (fd *fileDescription) Readable() bool {
	return fd.readable
}

// Writable implements kernel.File.Writable.
func (fd *fileDescription) Writable() bool {
	return fd.writable
}

// Read implements kernel.File.Read.
func (fd *fileDescription) Read(dst usermem.UserBuffer) (int, error) {
	if !fd.readable {
		return 0, memerr.ErrBadFD
	}
	fd.offMu.Lock()
	defer fd.offMu.Unlock()
	n, err := fd.ReadToBlocks(dst.Blocks())
	if err == io.EOF {
		err = nil
	}
	return int(n), err
}

// Write implements kernel.File.Write.
func (fd *fileDescription) Write(src usermem.UserBuffer) (int, error) {
	if !fd.writable {
		return 0, memerr.ErrBadFD
	}
	fd.offMu.Lock()
	defer fd.offMu.Unlock()
	n, err := fd.WriteFromBlocks(src.Blocks())
	return int(n), err
}

// Stat implements kernel.File.Stat.
func (fd *fileDescription) Stat() (kernel.Stat, error) {
	return kernel.Stat{
		Ino:   fd.inode.ino,
		Mode:  kernel.ModeFile,
		Nlink: fd.inode.nlink.Load(),
	}, nil
}

// ReadToBlocks implements safemem.Reader.ReadToBlocks.
//
// Preconditions: fd.offMu must be held.
func (fd *fileDescription) ReadToBlocks(dsts safemem.BlockSeq) (uint64, error) {
	fd.inode.dataMu.RLock()
	defer fd.inode.dataMu.RUnlock()
	size := uint64(len(fd.inode.data))
	if fd.off >= size {
		return 0, io.EOF
	}
	src := safemem.BlockSeqOf(safemem.BlockFromSlice(fd.inode.data[fd.off:]))
	n, err := safemem.CopySeq(dsts, src)
	fd.off += n
	return n, err
}

// WriteFromBlocks implements safemem.Writer.WriteFromBlocks.
//
// Preconditions: fd.offMu must be held.
func (fd *fileDescription) WriteFromBlocks(srcs safemem.BlockSeq) (uint64, error) {
	fd.inode.dataMu.Lock()
	defer fd.inode.dataMu.Unlock()
	end := fd.off + srcs.NumBytes()
	if size := uint64(len(fd.inode.data)); end > size {
		fd.inode.data = slices.Grow(fd.inode.data, int(end-size))[:end]
		// Bytes between the old size and the offset read as zero.
		if fd.off > size {
			clear(fd.inode.data[size:fd.off])
		}
	}
	dst := safemem.BlockSeqOf(safemem.BlockFromSlice(fd.inode.data[fd.off:end]))
	n, err := safemem.CopySeq(dst, srcs)
	fd.off += n
	return n, err
}

var (
	_ kernel.FS      = (*Filesystem)(nil)
	_ kernel.File    = (*fileDescription)(nil)
	_ safemem.Reader = (*fileDescription)(nil)
	_ safemem.Writer = (*fileDescription)(nil)
)
