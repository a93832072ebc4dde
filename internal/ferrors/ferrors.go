// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package ferrors centralizes the errno mapping policy described in spec
// §7: host errors pass through with their original errno, and a handful of
// fusebox-internal conditions (auditor denial, malformed control writes,
// xattr on a pseudo node) map to fixed errno values.
package ferrors

import (
	"errors"
	"os"
	"syscall"

	"github.com/jacobsa/fuse"
)

// Sentinel conditions the dispatcher and pseudo subtree raise directly;
// FromHostError maps each to the fuse.Errno the kernel expects.
var (
	// ErrAccessDenied is returned by the auditor gate and by writes to
	// read-only pseudo nodes.
	ErrAccessDenied = errors.New("fusebox: access denied")
	// ErrInvalidControlInput is returned for a malformed acl_switch write.
	ErrInvalidControlInput = errors.New("fusebox: invalid control input")
	// ErrNoXattr is returned for any xattr operation on a pseudo node.
	ErrNoXattr = errors.New("fusebox: pseudo nodes carry no extended attributes")
)

// FromHostError translates an error from a host syscall, a sentinel above,
// or an already-translated fuse.Errno into the errno fuse.Server expects.
// A nil input returns nil.
func FromHostError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrAccessDenied):
		return fuse.EACCES
	case errors.Is(err, ErrInvalidControlInput):
		return fuse.EINVAL
	case errors.Is(err, ErrNoXattr):
		return syscall.ENODATA
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return FromHostError(pathErr.Err)
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return FromHostError(linkErr.Err)
	}

	// Already a fuse.Errno or some other concrete kernel-facing error.
	return err
}
