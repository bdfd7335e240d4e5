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
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel address space and check its layout"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot - builds the kernel address space for the configured machine,
activates it, prints its regions and runs the layout self check.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(conf, os.Stdout); err != nil {
		Fatalf("boot: %v", err)
	}
	return subcommands.ExitSuccess
}

func (*Boot) run(conf *config.Config, w io.Writer) error {
	k, _, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer shutdown(k)

	fmt.Fprintf(w, "kernel space %v\n", k.KernelToken())
	printRegions(w, k.KernelSpace())
	fmt.Fprintf(w, "satp=%v tlb flushes=%d\n", k.Hart().SATP(), k.Hart().TLBFlushes())
	printStats(w, "frames", k.Frames().Stats())
	fmt.Fprintln(w, "kernel layout check passed")
	return nil
}
