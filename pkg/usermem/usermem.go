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

// Package usermem translates user pointers passed into system calls into
// views of the physical memory backing them.
//
// Every function takes the token of the address space the pointer belongs
// to and walks that space's page tables through a read-only view, so the
// kernel can resolve pointers of any process while running in its own
// address space. Unmapped pages make the whole request fail; no partial
// result is ever returned.
package usermem

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/safemem"
	"gvisor.dev/sv39/pkg/sv39"
)

var (
	translations   = metric.MustCreateNewUint64Metric("/memory/translations", "Number of user pointer translations.", metric.NewField("kind", "bytes", "cstring", "ref"))
	unmappedAccess = metric.MustCreateNewUint64Metric("/memory/unmapped_accesses", "Number of user pointer translations that hit an unmapped page.")
)

// DefaultWarningRate is the default interval between unmapped access
// warnings.
const DefaultWarningRate = time.Second

// warnLog reports unmapped accesses. It is rate limited so that a process
// passing bad pointers in a loop cannot flood the log.
var warnLog atomic.Pointer[log.Logger]

func init() {
	SetWarningRate(DefaultWarningRate)
}

// SetWarningRate limits unmapped access warnings to one per every.
func SetWarningRate(every time.Duration) {
	l := log.BasicRateLimitedLogger(every)
	warnLog.Store(&l)
}

// DefaultMaxCStringLen is the limit on C strings used when none is
// configured.
const DefaultMaxCStringLen = 4096

func unmapped(token sv39.Token, va sv39.VirtAddr) error {
	unmappedAccess.Increment()
	(*warnLog.Load()).Warningf("Unmapped user access at %v in %v", va, token)
	return fmt.Errorf("translating %v in %v: %w", va, token, memerr.ErrUnmappedAccess)
}

// page returns the bytes from va to the end of its page, or to limit if it
// comes first.
func page(mem *physmem.Memory, view pagetables.View, va, limit sv39.VirtAddr) ([]byte, error) {
	pte, ok := view.Translate(va.Floor())
	if !ok {
		return nil, unmapped(view.Token(), va)
	}
	n := sv39.PageSize - va.PageOffset()
	if uint64(limit-va) < n {
		n = uint64(limit - va)
	}
	return mem.Slice(pte.PPN().Addr()+sv39.PhysAddr(va.PageOffset()), n)
}

// TranslateBytes returns views of the n bytes starting at ptr in the
// address space of token, split at page boundaries. The views alias
// physical memory.
func TranslateBytes(mem *physmem.Memory, token sv39.Token, ptr sv39.VirtAddr, n uint64) (UserBuffer, error) {
	translations.Increment("bytes")
	if n == 0 {
		return UserBuffer{}, nil
	}
	end, ok := ptr.AddLength(n)
	if !ok {
		return UserBuffer{}, fmt.Errorf("range %v+%#x leaves the address space: %w", ptr, n, memerr.ErrUnmappedAccess)
	}
	view := pagetables.FromToken(mem, token)
	blocks := make([]safemem.Block, 0, (n+sv39.PageSize-1)/sv39.PageSize+1)
	for va := ptr; va < end; {
		b, err := page(mem, view, va, end)
		if err != nil {
			return UserBuffer{}, err
		}
		blocks = append(blocks, safemem.BlockFromSlice(b))
		va += sv39.VirtAddr(len(b))
	}
	return UserBuffer{blocks: safemem.BlockSeqFromSlice(blocks)}, nil
}

// TranslateCString reads the NUL terminated string at ptr in the address
// space of token. It fails with memerr.ErrNameTooLong if no terminator is
// found within maxLen bytes.
func TranslateCString(mem *physmem.Memory, token sv39.Token, ptr sv39.VirtAddr, maxLen int) (string, error) {
	translations.Increment("cstring")
	view := pagetables.FromToken(mem, token)
	var buf []byte
	for va := ptr; ; {
		if va >= sv39.MaxVirtPageNum.Addr() {
			return "", unmapped(token, va)
		}
		// Translate once per page and scan the rest of it.
		b, err := page(mem, view, va, sv39.MaxVirtPageNum.Addr())
		if err != nil {
			return "", err
		}
		for _, c := range b {
			if c == 0 {
				return string(buf), nil
			}
			if len(buf) == maxLen {
				return "", fmt.Errorf("string at %v: %w", ptr, memerr.ErrNameTooLong)
			}
			buf = append(buf, c)
		}
		va += sv39.VirtAddr(len(b))
	}
}

// Ref is a reference to a fixed-size value of type T in physical memory,
// stored little endian.
type Ref[T any] struct {
	b []byte
}

// Load reads the value.
func (r Ref[T]) Load() T {
	var v T
	if _, err := binary.Decode(r.b, binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("usermem: decoding %T: %v", v, err))
	}
	return v
}

// Store writes v.
func (r Ref[T]) Store(v T) {
	if _, err := binary.Encode(r.b, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("usermem: encoding %T: %v", v, err))
	}
}

// Bytes returns the bytes of the value. The slice aliases physical memory.
func (r Ref[T]) Bytes() []byte {
	return r.b
}

// SizeOf returns the encoded size of T. It panics if T is not a fixed-size
// type.
func SizeOf[T any]() uint64 {
	var v T
	size := binary.Size(&v)
	if size < 0 {
		panic(fmt.Sprintf("usermem: %T has no fixed size", v))
	}
	return uint64(size)
}

// TranslateRef returns a reference to the T at ptr in the address space of
// token. The value must lie within a single page; otherwise it fails with
// memerr.ErrCrossPageValue.
func TranslateRef[T any](mem *physmem.Memory, token sv39.Token, ptr sv39.VirtAddr) (Ref[T], error) {
	translations.Increment("ref")
	size := SizeOf[T]()
	if ptr.PageOffset()+size > sv39.PageSize {
		return Ref[T]{}, fmt.Errorf("%d byte value at %v: %w", size, ptr, memerr.ErrCrossPageValue)
	}
	view := pagetables.FromToken(mem, token)
	b, err := page(mem, view, ptr, ptr+sv39.VirtAddr(size))
	if err != nil {
		return Ref[T]{}, err
	}
	return Ref[T]{b: b}, nil
}

// Current gives access to the address space of the running process.
type Current interface {
	// Memory returns physical memory.
	Memory() *physmem.Memory

	// CurrentToken returns the token of the running process, or false if
	// no process is running.
	CurrentToken() (sv39.Token, bool)
}

// TranslateCurrent is TranslateRef against the running process.
func TranslateCurrent[T any](cur Current, ptr sv39.VirtAddr) (Ref[T], error) {
	token, ok := cur.CurrentToken()
	if !ok {
		return Ref[T]{}, memerr.ErrNoProcess
	}
	return TranslateRef[T](cur.Memory(), token, ptr)
}
