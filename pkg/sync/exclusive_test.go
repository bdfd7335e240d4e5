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

package sync

import (
	"errors"
	"testing"
)

func TestExclusiveWith(t *testing.T) {
	e := NewExclusive(0)
	var wg WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				e.With(func(v *int) error {
					*v++
					return nil
				})
			}
		}()
	}
	wg.Wait()
	if got := e.Get(); got != 8000 {
		t.Errorf("Get() = %d, want 8000", got)
	}
}

func TestExclusiveError(t *testing.T) {
	e := NewExclusive("a")
	errBoom := errors.New("boom")
	if err := e.With(func(s *string) error {
		*s = "b"
		return errBoom
	}); err != errBoom {
		t.Errorf("With returned %v, want %v", err, errBoom)
	}
	if old := e.Swap("c"); old != "b" {
		t.Errorf("Swap returned %q, want %q", old, "b")
	}
	if got := e.Get(); got != "c" {
		t.Errorf("Get() = %q, want %q", got, "c")
	}
}
