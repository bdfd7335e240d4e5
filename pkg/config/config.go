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

// Package config holds the description of the simulated machine: the
// physical memory layout the kernel boots with, the process defaults and
// the logging setup.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/sv39"
)

// MMIO is a device window identity mapped into the kernel space.
type MMIO struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
}

// Config holds the machine configuration.
//
// Addresses are physical and must be page aligned.
type Config struct {
	// KernelBase is the load address of the kernel image.
	KernelBase uint64 `toml:"kernel_base"`

	// TextEnd, RodataEnd, DataEnd and BSSEnd end the kernel image sections.
	// Memory from BSSEnd to MemoryEnd backs the frame allocator.
	TextEnd   uint64 `toml:"text_end"`
	RodataEnd uint64 `toml:"rodata_end"`
	DataEnd   uint64 `toml:"data_end"`
	BSSEnd    uint64 `toml:"bss_end"`

	// MemoryEnd is the end of physical memory.
	MemoryEnd uint64 `toml:"memory_end"`

	// MMIO lists the device windows mapped into the kernel space.
	MMIO []MMIO `toml:"mmio"`

	// UserStackSize is the size of every user stack in bytes.
	UserStackSize uint64 `toml:"user_stack_size"`

	// MaxCStringLen bounds the length of strings read from user memory.
	MaxCStringLen int `toml:"max_cstring_len"`

	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`

	// RateLimitedLogEvery is the minimum interval between repeated
	// warnings about faulting user accesses.
	RateLimitedLogEvery time.Duration `toml:"rate_limited_log_every"`
}

// Default returns the configuration of the QEMU virt machine with 8 MiB of
// memory past the kernel load address.
func Default() *Config {
	return &Config{
		KernelBase: 0x80200000,
		TextEnd:    0x80220000,
		RodataEnd:  0x80228000,
		DataEnd:    0x80230000,
		BSSEnd:     0x80260000,
		MemoryEnd:  0x80800000,
		MMIO: []MMIO{
			{Base: 0x10001000, Size: 0x1000},
		},
		UserStackSize:       8192,
		MaxCStringLen:       4096,
		LogLevel:            "info",
		LogFormat:           "text",
		RateLimitedLogEvery: time.Second,
	}
}

// Load reads a TOML file over the defaults. Keys that do not name a field
// are an error.
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.decodeFile(path); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) decodeFile(path string) error {
	// A file that sets mmio replaces the default windows.
	c.MMIO = nil
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if !md.IsDefined("mmio") {
		c.MMIO = Default().MMIO
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q has unknown keys: %v", path, undecoded)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Validate checks the layout boundaries and the remaining settings.
func (c *Config) Validate() error {
	if err := c.Layout().Validate(); err != nil {
		return err
	}
	if c.BSSEnd == c.MemoryEnd {
		return fmt.Errorf("no memory left for frames past %#x", c.BSSEnd)
	}
	if c.UserStackSize == 0 || !sv39.IsAligned(c.UserStackSize, sv39.PageSize) {
		return fmt.Errorf("user stack size %#x must be a non-zero multiple of the page size", c.UserStackSize)
	}
	if c.MaxCStringLen <= 0 {
		return fmt.Errorf("max cstring length must be positive, got %d", c.MaxCStringLen)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.RateLimitedLogEvery < 0 {
		return fmt.Errorf("negative rate limit interval %v", c.RateLimitedLogEvery)
	}
	return nil
}

// Layout returns the kernel layout described by c.
func (c *Config) Layout() *mm.KernelLayout {
	l := &mm.KernelLayout{
		Base:      sv39.PhysAddr(c.KernelBase),
		TextEnd:   sv39.PhysAddr(c.TextEnd),
		RodataEnd: sv39.PhysAddr(c.RodataEnd),
		DataEnd:   sv39.PhysAddr(c.DataEnd),
		BSSEnd:    sv39.PhysAddr(c.BSSEnd),
		MemoryEnd: sv39.PhysAddr(c.MemoryEnd),
	}
	for _, m := range c.MMIO {
		l.MMIO = append(l.MMIO, mm.MMIO{Base: sv39.PhysAddr(m.Base), Size: m.Size})
	}
	return l
}
