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
	"io"

	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/safemem"
	"gvisor.dev/sv39/pkg/sync"
	"gvisor.dev/sv39/pkg/usermem"
)

// Console is a character device file backed by an io.Reader for input and
// an io.Writer for output. Either may be nil, making the console write-only
// or read-only.
type Console struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

// NewConsole returns a Console reading r and writing w.
func NewConsole(r io.Reader, w io.Writer) *Console {
	return &Console{r: r, w: w}
}

// Readable implements kernel.File.Readable.
func (c *Console) Readable() bool {
	return c.r != nil
}

// Writable implements kernel.File.Writable.
func (c *Console) Writable() bool {
	return c.w != nil
}

// Read implements kernel.File.Read. It returns once the reader returns, so
// a partial read is not an error.
func (c *Console) Read(dst usermem.UserBuffer) (int, error) {
	if c.r == nil {
		return 0, memerr.ErrBadFD
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := safemem.FromIOReader{Reader: c.r}.ReadToBlocks(dst.Blocks())
	if err == io.EOF {
		err = nil
	}
	return int(n), err
}

// Write implements kernel.File.Write.
func (c *Console) Write(src usermem.UserBuffer) (int, error) {
	if c.w == nil {
		return 0, memerr.ErrBadFD
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := safemem.WriteFullFromBlocks(safemem.FromIOWriter{Writer: c.w}, src.Blocks())
	return int(n), err
}

// Stat implements kernel.File.Stat.
func (c *Console) Stat() (kernel.Stat, error) {
	return kernel.Stat{Mode: kernel.ModeNull, Nlink: 1}, nil
}

var _ kernel.File = (*Console)(nil)
