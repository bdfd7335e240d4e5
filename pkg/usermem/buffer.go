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

package usermem

import (
	"io"

	"gvisor.dev/sv39/pkg/safemem"
)

// UserBuffer is a translated user byte range: an ordered sequence of views
// of physical memory that together stand for one contiguous user buffer.
//
// The views alias physical memory; writes through a UserBuffer are visible
// to the process that owns the range.
type UserBuffer struct {
	blocks safemem.BlockSeq
}

// BytesBuffer returns a UserBuffer over kernel byte slices, for file
// operations invoked on behalf of the kernel itself.
func BytesBuffer(views ...[]byte) UserBuffer {
	blocks := make([]safemem.Block, 0, len(views))
	for _, v := range views {
		blocks = append(blocks, safemem.BlockFromSlice(v))
	}
	return UserBuffer{blocks: safemem.BlockSeqFromSlice(blocks)}
}

// Len returns the number of bytes in the buffer.
func (b UserBuffer) Len() uint64 {
	return b.blocks.NumBytes()
}

// Blocks returns the buffer as a BlockSeq.
func (b UserBuffer) Blocks() safemem.BlockSeq {
	return b.blocks
}

// Views returns the individual byte views in order.
func (b UserBuffer) Views() [][]byte {
	var views [][]byte
	for bs := b.blocks; !bs.IsEmpty(); bs = bs.Tail() {
		views = append(views, bs.Head().ToSlice())
	}
	return views
}

// Bytes returns a copy of the buffer contents.
func (b UserBuffer) Bytes() []byte {
	out := make([]byte, b.Len())
	safemem.CopySeq(safemem.BlockSeqOf(safemem.BlockFromSlice(out)), b.blocks)
	return out
}

// CopyIn copies from the buffer into dst and returns the number of bytes
// copied, the smaller of the two lengths.
func (b UserBuffer) CopyIn(dst []byte) int {
	n, _ := safemem.CopySeq(safemem.BlockSeqOf(safemem.BlockFromSlice(dst)), b.blocks)
	return int(n)
}

// CopyOut copies src into the buffer and returns the number of bytes
// copied, the smaller of the two lengths.
func (b UserBuffer) CopyOut(src []byte) int {
	n, _ := safemem.CopySeq(b.blocks, safemem.BlockSeqOf(safemem.BlockFromSlice(src)))
	return int(n)
}

// Reader returns an io.Reader over the buffer contents.
func (b UserBuffer) Reader() io.Reader {
	return safemem.ToIOReader{Reader: &safemem.BlockSeqReader{Blocks: b.blocks}}
}

// Writer returns an io.Writer filling the buffer from the start. Writes
// past the end fail with safemem.ErrEndOfBlockSeq.
func (b UserBuffer) Writer() io.Writer {
	return safemem.ToIOWriter{Writer: &safemem.BlockSeqWriter{Blocks: b.blocks}}
}
