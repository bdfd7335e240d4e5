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

// Package memerr contains the memory subsystem's error taxonomy exported as
// *errors.Error pointers, comparable with errors.Is after wrapping.
package memerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/errors"
)

// Failures reachable from user-supplied arguments. System calls convert these
// into negative status codes; none of them indicate kernel corruption.
var (
	ErrOutOfMemory     = errors.New(unix.ENOMEM, "out of physical frames")
	ErrOverlap         = errors.New(unix.EEXIST, "region overlaps an existing mapping")
	ErrNoSuchMapping   = errors.New(unix.EINVAL, "no mapping matches the range")
	ErrUnmappedAccess  = errors.New(unix.EFAULT, "access to unmapped virtual page")
	ErrCrossPageValue  = errors.New(unix.EFAULT, "value straddles a page boundary")
	ErrUnaligned       = errors.New(unix.EINVAL, "address or length is not page aligned")
	ErrInvalidPerm     = errors.New(unix.EINVAL, "invalid permission bits")
	ErrNameTooLong     = errors.New(unix.ENAMETOOLONG, "string exceeds maximum length")
	ErrBadFD           = errors.New(unix.EBADF, "bad file descriptor")
	ErrTooManyFiles    = errors.New(unix.EMFILE, "too many open files")
	ErrNoEntry         = errors.New(unix.ENOENT, "no such file or directory")
	ErrExists          = errors.New(unix.EEXIST, "file exists")
	ErrNoProcess       = errors.New(unix.ESRCH, "no current process")
	ErrInvalidArgument = errors.New(unix.EINVAL, "invalid argument")
)

// ToErrno returns the errno carried by err or any error it wraps. ok is
// false if err carries none.
func ToErrno(err error) (errno unix.Errno, ok bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno(), true
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return ue, true
	}
	return 0, false
}

// ToStatus converts err into a system call return value: 0 for nil, -errno
// for errors that carry one and -1 otherwise.
func ToStatus(err error) int64 {
	if err == nil {
		return 0
	}
	if errno, ok := ToErrno(err); ok {
		return -int64(errno)
	}
	return -1
}
