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

package memerr

import (
	goerrors "errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestToStatus(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int64
	}{
		{"nil", nil, 0},
		{"sentinel", ErrUnmappedAccess, -int64(unix.EFAULT)},
		{"wrapped", fmt.Errorf("mmap [0x10000, 0x12000): %w", ErrOverlap), -int64(unix.EEXIST)},
		{"errno", unix.ENOMEM, -int64(unix.ENOMEM)},
		{"plain", goerrors.New("boom"), -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToStatus(tc.err); got != tc.want {
				t.Errorf("ToStatus(%v): got %d, wanted %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsAfterWrap(t *testing.T) {
	err := fmt.Errorf("munmap: %w", ErrNoSuchMapping)
	if !goerrors.Is(err, ErrNoSuchMapping) {
		t.Errorf("errors.Is(%v, ErrNoSuchMapping) = false", err)
	}
	if goerrors.Is(err, ErrOverlap) {
		t.Errorf("errors.Is(%v, ErrOverlap) = true", err)
	}
}
