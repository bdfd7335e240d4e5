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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	if !b.IsEmpty() || b.Size() != 130 {
		t.Fatalf("New: empty %t size %d", b.IsEmpty(), b.Size())
	}
	for _, i := range []uint64{0, 63, 64, 129} {
		if !b.Add(i) {
			t.Errorf("Add(%d) reported a duplicate", i)
		}
	}
	if b.Add(64) {
		t.Errorf("second Add(64) reported a new entry")
	}
	if got := b.Count(); got != 4 {
		t.Errorf("Count: got %d, wanted 4", got)
	}
	if !b.Contains(129) || b.Contains(128) {
		t.Errorf("Contains mismatch")
	}
	if diff := cmp.Diff([]uint64{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice mismatch (-want +got):\n%s", diff)
	}
	if !b.Remove(63) || b.Remove(63) {
		t.Errorf("Remove(63) twice: want true then false")
	}
	if got, ok := b.FirstOne(1); !ok || got != 64 {
		t.Errorf("FirstOne(1): got (%d, %t), wanted (64, true)", got, ok)
	}
	if _, ok := b.FirstOne(130); ok {
		t.Errorf("FirstOne past the end found a bit")
	}
}

func TestOutOfRange(t *testing.T) {
	b := New(64)
	defer func() {
		if recover() == nil {
			t.Errorf("Add(64) did not panic")
		}
	}()
	b.Add(64)
}
