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

// Package cmd holds the sv39ctl subcommands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/memfs"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pgalloc"
)

// Fatalf logs the message, writes it to stderr and exits with status 1.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// DemoImage is a small program image: a text page, read-only data and a
// zero-filled data segment larger than its initial contents.
func DemoImage() *mm.Image {
	return &mm.Image{
		Entry: 0x10000,
		Segments: []mm.Segment{
			// li a7, 93; ecall
			{Addr: 0x10000, MemSize: 8, Data: []byte{0x93, 0x08, 0xd0, 0x05, 0x73, 0x00, 0x00, 0x00}, Perm: mm.PermRX},
			{Addr: 0x11000, MemSize: 13, Data: []byte("Hello, SV39!\n"), Perm: mm.PermR},
			{Addr: 0x12000, MemSize: 0x2100, Data: []byte{1, 2, 3, 4}, Perm: mm.PermRW},
		},
	}
}

// bootKernel boots a kernel with an empty in-memory filesystem.
func bootKernel(conf *config.Config) (*kernel.Kernel, *memfs.Filesystem, error) {
	fs := memfs.New()
	k, err := kernel.Boot(conf, fs)
	if err != nil {
		return nil, nil, fmt.Errorf("booting: %w", err)
	}
	return k, fs, nil
}

func shutdown(k *kernel.Kernel) {
	if err := k.Shutdown(); err != nil {
		log.Warningf("Shutdown: %v", err)
	}
}

func printStats(w io.Writer, label string, s pgalloc.Stats) {
	fmt.Fprintf(w, "%-8s total=%d allocated=%d recycled=%d untouched=%d free=%d\n",
		label+":", s.Total, s.Allocated, s.Recycled, s.Untouched, s.Free())
}

func printRegions(w io.Writer, ms *mm.MemorySet) {
	for _, r := range ms.Regions() {
		fmt.Fprintf(w, "  %v\n", r)
	}
}
