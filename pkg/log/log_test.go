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
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, errors.New("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	for i := 0; i < 2; i++ {
		if _, err := w.Write([]byte("error\n")); err == nil {
			t.Fatalf("Write should have failed")
		}
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	w.Emit(0, Info, time.Now(), "frames=%d", 3)
	if diff := cmp.Diff([]string{"frames=3", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 7, 9, 4, 5, 123456000, time.UTC)
	e.Emit(0, Warning, ts, "mapped %#x", 0x10000)

	got := strings.Join(tw.lines, "")
	re := regexp.MustCompile(`^W0307 09:04:05\.123456 +\d+ log_test\.go:\d+\] mapped 0x10000\n$`)
	if !re.MatchString(got) {
		t.Errorf("got line %q, want match for %s", got, re)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 7, 9, 4, 5, 0, time.UTC)
	e.Emit(0, Debug, ts, "released %d frames", 2)

	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", tw.lines[0], err)
	}
	if got.Level != Debug || !got.Time.Equal(ts) {
		t.Errorf("got level %v time %v, want %v %v", got.Level, got.Time, Debug, ts)
	}
	if !strings.HasSuffix(got.Msg, "] released 2 frames") || !strings.HasPrefix(got.Msg, "log_test.go:") {
		t.Errorf("got msg %q, want caller prefix and message", got.Msg)
	}
}

func TestLevelJSON(t *testing.T) {
	for _, lv := range []Level{Warning, Info, Debug} {
		bs, err := json.Marshal(lv)
		if err != nil {
			t.Fatalf("json.Marshal(%v) failed: %v", lv, err)
		}
		var got Level
		if err := json.Unmarshal(bs, &got); err != nil {
			t.Fatalf("json.Unmarshal(%s) failed: %v", bs, err)
		}
		if got != lv {
			t.Errorf("round trip of %v got %v", lv, got)
		}
	}
	for i, want := range []Level{Warning, Info, Debug} {
		var got Level
		if err := json.Unmarshal([]byte{byte('0' + i)}, &got); err != nil || got != want {
			t.Errorf("Unmarshal(%d) = %v, %v; want %v", i, got, err, want)
		}
	}
	var got Level
	if err := json.Unmarshal([]byte(`"warn"`), &got); err != nil || got != Warning {
		t.Errorf(`Unmarshal("warn") = %v, %v; want %v`, got, err, Warning)
	}
	for _, bad := range []string{`7`, `"loud"`, `true`} {
		if err := json.Unmarshal([]byte(bad), &got); err == nil {
			t.Errorf("Unmarshal(%s) succeeded", bad)
		}
	}
	if _, err := json.Marshal(Level(9)); err == nil {
		t.Errorf("Marshal(Level(9)) succeeded")
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", Debug, true},
		{"INFO", Info, true},
		{"warn", Warning, true},
		{"verbose", Warning, false},
	} {
		got, err := ParseLevel(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, ok=%t", tc.in, got, err, tc.want, tc.ok)
		}
	}
}

func TestBasicLoggerLevel(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden")
	l.Infof("shown")
	l.SetLevel(Debug)
	l.Debugf("now shown")
	if diff := cmp.Diff([]string{"shown", "\n", "now shown", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}, time.Hour)
	for i := 0; i < 5; i++ {
		l.Warningf("unmapped access %d", i)
	}
	if diff := cmp.Diff([]string{"unmapped access 0", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitterFor(t *testing.T) {
	w := &Writer{Next: &testWriter{}}
	if _, err := EmitterFor("json", w); err != nil {
		t.Errorf("EmitterFor(json) failed: %v", err)
	}
	if _, err := EmitterFor("xml", w); err == nil {
		t.Errorf("EmitterFor(xml) succeeded, want error")
	}
}

func TestBasicRateLimitedLoggerFollowsTarget(t *testing.T) {
	old := Log()
	defer SetTarget(old.Emitter)

	l := BasicRateLimitedLogger(time.Hour)
	tw := &testWriter{}
	SetTarget(&Writer{Next: tw})
	l.Warningf("first")
	l.Warningf("second")
	if diff := cmp.Diff([]string{"first", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}
