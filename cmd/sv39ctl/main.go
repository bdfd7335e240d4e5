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

// Binary sv39ctl boots the SV39 memory subsystem on a simulated machine and
// drives it from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/cmd/sv39ctl/cmd"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
)

var (
	logFile = flag.String("log", "", "file path where logs are written; %PID% is replaced by the process ID. Logs go to stderr if empty.")
	quiet   = flag.Bool("quiet", false, "discard logs instead of writing them to stderr.")
)

// forEachCmd invokes the passed callback for each command supported by
// sv39ctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Dump), "")
	cb(new(cmd.Mmap), "")

	const debugGroup = "debug"
	cb(new(cmd.Stats), debugGroup)
	cb(new(cmd.Stress), debugGroup)
}

func main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Set up logging.
	var out io.Writer = os.Stderr
	switch {
	case *quiet:
		out = io.Discard
	case *logFile != "":
		f, err := log.OpenFile(*logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", *logFile, err)
		}
		out = f
	}
	e, err := log.EmitterFor(conf.LogFormat, &log.Writer{Next: out})
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetTarget(e)
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetLevel(level)

	if err := metric.Initialize(); err != nil {
		cmd.Fatalf("error initializing metrics: %v", err)
	}

	log.Infof("***************************")
	log.Infof("Args: %s", os.Args)
	log.Infof("Memory: [%#x, %#x), user stack %#x bytes", conf.KernelBase, conf.MemoryEnd, conf.UserStackSize)
	log.Infof("***************************")

	status := subcommands.Execute(context.Background(), conf)
	if status != subcommands.ExitSuccess {
		fmt.Fprintf(os.Stderr, "sv39ctl: %s exited with status %d\n", flag.Arg(0), status)
	}
	os.Exit(int(status))
}
