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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/errors/memerr"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/syscalls"
	"gvisor.dev/sv39/pkg/usermem"
)

// Mmap implements subcommands.Command for the "mmap" command.
type Mmap struct {
	start  uint64
	length uint64
	perm   string
}

// Name implements subcommands.Command.Name.
func (*Mmap) Name() string {
	return "mmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mmap) Synopsis() string {
	return "map and unmap a range in a demo process"
}

// Usage implements subcommands.Command.Usage.
func (*Mmap) Usage() string {
	return `mmap [flags] - boots, creates a demo process, maps the range, touches every
byte of it and unmaps it, printing the frame pool at each step.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mmap) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&m.start, "start", 0x40000000, "page aligned start address.")
	f.Uint64Var(&m.length, "len", 0x3000, "length in bytes, rounded up to pages.")
	f.StringVar(&m.perm, "perm", "rw", "permissions, a combination of r, w and x.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mmap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := m.run(conf, os.Stdout); err != nil {
		Fatalf("mmap: %v", err)
	}
	return subcommands.ExitSuccess
}

// prot converts perm into mmap protection bits.
func prot(perm mm.Perm) uint64 {
	var p uint64
	if perm&mm.PermR != 0 {
		p |= syscalls.ProtRead
	}
	if perm&mm.PermW != 0 {
		p |= syscalls.ProtWrite
	}
	if perm&mm.PermX != 0 {
		p |= syscalls.ProtExec
	}
	return p
}

func (m *Mmap) run(conf *config.Config, w io.Writer) error {
	perm, err := mm.ParsePerm(m.perm)
	if err != nil {
		return err
	}
	if perm&mm.PermU != 0 {
		return fmt.Errorf("perm %q: user access is implied: %w", m.perm, memerr.ErrInvalidPerm)
	}
	k, _, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer shutdown(k)

	p, err := k.Spawn(DemoImage())
	if err != nil {
		return err
	}
	printStats(w, "before", k.Frames().Stats())

	if ret := syscalls.Mmap(p, m.start, m.length, prot(perm)); ret < 0 {
		return fmt.Errorf("mmap(%#x, %#x, %v) = %d", m.start, m.length, perm, ret)
	}
	printStats(w, "mapped", k.Frames().Stats())
	err = p.With(func(s *kernel.ProcessState) error {
		printRegions(w, s.Space)
		return nil
	})
	if err != nil {
		return err
	}

	token, _ := p.Token()
	buf, err := usermem.TranslateBytes(k.Memory(), token, sv39.VirtAddr(m.start), m.length)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "translated %d bytes into %d views\n", buf.Len(), len(buf.Views()))
	pattern := make([]byte, buf.Len())
	for i := range pattern {
		pattern[i] = byte(i)
	}
	buf.CopyOut(pattern)

	if ret := syscalls.Munmap(p, m.start, m.length); ret < 0 {
		return fmt.Errorf("munmap(%#x, %#x) = %d", m.start, m.length, ret)
	}
	printStats(w, "unmapped", k.Frames().Stats())
	return k.Exit(p)
}
