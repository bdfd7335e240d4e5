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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// pid is the space-padded process ID written in each line.
var pid = fmt.Sprintf("%7d", os.Getpid())

// levelChar returns the glog level letter.
func levelChar(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// callerOf returns "file:line" for the frame depth levels above Emit.
func callerOf(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "x:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg...
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var b strings.Builder
	b.Grow(64 + len(format))

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	b.WriteByte(levelChar(level))
	fmt.Fprintf(&b, "%02d%02d %02d:%02d:%02d.%06d %s %s] ",
		int(month), day, hour, minute, second, timestamp.Nanosecond()/1000,
		pid, callerOf(depth+1))

	// The user format string is appended so args are expanded once below.
	b.WriteString(format)
	b.WriteByte('\n')

	g.Emitter.Emit(depth+1, level, timestamp, b.String(), args...)
}
