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
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	kernelSpace bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the page table of a demo process"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] - boots, creates a demo process and prints every leaf mapping
of its page table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.kernelSpace, "kernel", false, "dump the kernel address space instead.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := d.run(conf, os.Stdout); err != nil {
		Fatalf("dump: %v", err)
	}
	return subcommands.ExitSuccess
}

func (d *Dump) run(conf *config.Config, w io.Writer) error {
	k, _, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer shutdown(k)

	if d.kernelSpace {
		dumpSpace(w, "kernel", k.KernelSpace())
		return nil
	}
	p, err := k.Spawn(DemoImage())
	if err != nil {
		return err
	}
	return p.With(func(s *kernel.ProcessState) error {
		fmt.Fprintf(w, "entry %v stack [%v, %v) heap %v\n", s.Layout.Entry, s.Layout.StackBottom, s.Layout.StackTop, s.Layout.HeapBottom)
		dumpSpace(w, p.String(), s.Space)
		return nil
	})
}

func dumpSpace(w io.Writer, name string, ms *mm.MemorySet) {
	fmt.Fprintf(w, "%s %v\n", name, ms.Token())
	printRegions(w, ms)
	n := 0
	ms.Mappings(func(m pagetables.Mapping) bool {
		fmt.Fprintf(w, "  %v\n", m)
		n++
		return true
	})
	fmt.Fprintf(w, "%d mappings\n", n)
}
