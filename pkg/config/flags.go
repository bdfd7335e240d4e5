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

package config

import (
	"flag"
	"time"
)

// RegisterFlags registers the flags that override configuration values.
// Defaults are taken from Default.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()
	flagSet.String("config", "", "path to a TOML machine configuration file.")
	flagSet.Uint64("memory-end", d.MemoryEnd, "end of physical memory.")
	flagSet.Uint64("user-stack-size", d.UserStackSize, "size of each user stack in bytes.")
	flagSet.Int("max-cstring-len", d.MaxCStringLen, "longest string read from user memory.")
	flagSet.String("log-level", d.LogLevel, "log level: warning, info or debug.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.Duration("rate-limited-log-every", d.RateLimitedLogEvery, "minimum interval between repeated user fault warnings.")
}

// NewFromFlags creates a new Config from the file named by --config, if
// any, with explicitly set flags applied on top.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.decodeFile(fl.Value.String()); err != nil {
			return nil, err
		}
	}

	flagSet.Visit(func(fl *flag.Flag) {
		g, ok := fl.Value.(flag.Getter)
		if !ok {
			return
		}
		switch fl.Name {
		case "memory-end":
			conf.MemoryEnd = g.Get().(uint64)
		case "user-stack-size":
			conf.UserStackSize = g.Get().(uint64)
		case "max-cstring-len":
			conf.MaxCStringLen = g.Get().(int)
		case "log-level":
			conf.LogLevel = g.Get().(string)
		case "log-format":
			conf.LogFormat = g.Get().(string)
		case "rate-limited-log-every":
			conf.RateLimitedLogEvery = g.Get().(time.Duration)
		}
	})
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
