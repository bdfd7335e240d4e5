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
	"golang.org/x/sync/errgroup"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/sv39"
	"gvisor.dev/sv39/pkg/syscalls"
	"gvisor.dev/sv39/pkg/usermem"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	procs int
	iters int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "map, touch and unmap memory from many processes at once"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - runs processes concurrently, each mapping, writing,
verifying and unmapping memory, then checks that every frame was returned.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.procs, "procs", 8, "number of concurrent processes.")
	f.IntVar(&s.iters, "iters", 64, "mmap/munmap rounds per process.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.procs <= 0 || s.iters <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := s.run(ctx, conf, os.Stdout); err != nil {
		Fatalf("stress: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Stress) run(ctx context.Context, conf *config.Config, w io.Writer) error {
	k, _, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer shutdown(k)

	before := k.Frames().Stats()
	printStats(w, "before", before)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.procs; i++ {
		g.Go(func() error {
			return s.churn(ctx, k)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	after := k.Frames().Stats()
	printStats(w, "after", after)
	if after.Allocated != before.Allocated {
		return fmt.Errorf("%d frames leaked", after.Allocated-before.Allocated)
	}
	fmt.Fprintf(w, "%d processes x %d rounds: frame pool restored\n", s.procs, s.iters)
	return nil
}

// churn runs one process through s.iters mmap/write/verify/munmap rounds.
func (s *Stress) churn(ctx context.Context, k *kernel.Kernel) error {
	p, err := k.Spawn(DemoImage())
	if err != nil {
		return err
	}
	defer k.Exit(p)

	const (
		start  = 0x40000000
		length = 0x3000
	)
	want := []byte(fmt.Sprintf("%v was here", p))
	for i := 0; i < s.iters; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ret := syscalls.Mmap(p, start, length, syscalls.ProtRead|syscalls.ProtWrite); ret != 0 {
			return fmt.Errorf("%v: mmap = %d", p, ret)
		}
		token, _ := p.Token()
		// Straddle the first page boundary.
		addr := start + 0x1000 - uint64(len(want)/2)
		buf, err := usermem.TranslateBytes(k.Memory(), token, sv39.VirtAddr(addr), uint64(len(want)))
		if err != nil {
			return err
		}
		buf.CopyOut(want)
		check, err := usermem.TranslateBytes(k.Memory(), token, sv39.VirtAddr(addr), uint64(len(want)))
		if err != nil {
			return err
		}
		if got := check.Bytes(); string(got) != string(want) {
			return fmt.Errorf("%v: read back %q, want %q", p, got, want)
		}
		if ret := syscalls.Munmap(p, start, length); ret != 0 {
			return fmt.Errorf("%v: munmap = %d", p, ret)
		}
	}
	return nil
}
