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
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/memfs"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/syscalls"
	"gvisor.dev/sv39/pkg/usermem"
)

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	prefix string
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "run a small workload and print the metrics"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [flags] - runs a workload of system calls in a demo process and prints
the memory metrics in the Prometheus text format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.prefix, "prefix", "", "only print metrics whose name starts with this prefix, e.g. /memory/frames.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := s.run(conf, os.Stdout); err != nil {
		Fatalf("stats: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Stats) run(conf *config.Config, w io.Writer) error {
	if err := workload(conf, io.Discard); err != nil {
		return err
	}
	return metric.WritePrometheus(w, s.prefix)
}

// workload exercises every system call once from a demo process, writing
// the greeting from its image to out.
func workload(conf *config.Config, out io.Writer) error {
	k, _, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer shutdown(k)

	p, err := k.Spawn(DemoImage())
	if err != nil {
		return err
	}
	if err := k.Switch(p); err != nil {
		return err
	}
	err = p.With(func(s *kernel.ProcessState) error {
		_, err := s.Files.Alloc(memfs.NewConsole(nil, out))
		return err
	})
	if err != nil {
		return err
	}

	const scratch = 0x40000000
	calls := []struct {
		name string
		call func() int64
	}{
		{"write", func() int64 { return syscalls.Write(p, 0, 0x11000, 13) }},
		{"mmap", func() int64 { return syscalls.Mmap(p, scratch, 0x2000, syscalls.ProtRead|syscalls.ProtWrite) }},
		{"poke", func() int64 { return poke(k, scratch, "log.txt\x00") }},
		{"open", func() int64 { return syscalls.Open(p, scratch, uint32(kernel.OCreate|kernel.ORdWr)) }},
		{"write file", func() int64 { return syscalls.Write(p, 1, 0x11000, 13) }},
		{"fstat", func() int64 { return syscalls.Fstat(p, 1, scratch+0x1000) }},
		{"poke", func() int64 { return poke(k, scratch+0x100, "copy.txt\x00") }},
		{"linkat", func() int64 { return syscalls.Linkat(p, scratch, scratch+0x100) }},
		{"unlinkat", func() int64 { return syscalls.Unlinkat(p, scratch) }},
		{"close", func() int64 { return syscalls.Close(p, 1) }},
		{"sbrk", func() int64 { return syscalls.Sbrk(p, 0x3000) }},
		{"munmap", func() int64 { return syscalls.Munmap(p, scratch, 0x2000) }},
	}
	for _, c := range calls {
		if ret := c.call(); ret < 0 {
			return fmt.Errorf("%s = %d", c.name, ret)
		}
	}

	// A read from unmapped memory fails and is counted.
	if ret := syscalls.Write(p, 0, scratch, 1); ret >= 0 {
		return fmt.Errorf("write from unmapped memory = %d, want an error", ret)
	}
	return k.Exit(p)
}

// poke copies data into the running process's memory at addr.
func poke(k *kernel.Kernel, addr uint64, data string) int64 {
	token, ok := k.CurrentToken()
	if !ok {
		return -1
	}
	buf, err := usermem.TranslateBytes(k.Memory(), token, sv39.VirtAddr(addr), uint64(len(data)))
	if err != nil {
		return -1
	}
	return int64(buf.CopyOut([]byte(data)))
}
