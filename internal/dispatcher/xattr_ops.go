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

// Extended-attribute handlers. Pseudo nodes carry none (spec §4.4): every
// verb below refuses with ferrors.ErrNoXattr as soon as the target record
// resolves to the control subtree, before touching the host at all.
package dispatcher

import (
	"strings"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

func (d *Dispatcher) resolveForXattr(id fuseops.InodeID) (*vnode.Record, error) {
	rec, ok := d.manager.Get(vnode.ID(id))
	if !ok {
		return nil, unix.ENOENT
	}
	if rec.IsPseudo() {
		return nil, ferrors.ErrNoXattr
	}
	return rec, nil
}

// GetXattr reads one named extended attribute. A zero-length Dst is the
// kernel's size probe: report the required length without copying.
func (d *Dispatcher) GetXattr(op *fuseops.GetXattrOp) error {
	rec, err := d.resolveForXattr(op.Inode)
	if err != nil {
		return ferrors.FromHostError(err)
	}

	value, err := xattr.LGet(string(d.primaryPath(rec)), op.Name)
	if err != nil {
		return ferrors.FromHostError(mapXattrErr(err))
	}

	op.BytesRead = len(value)
	if len(op.Dst) == 0 {
		return nil
	}
	if len(op.Dst) < len(value) {
		return ferrors.FromHostError(syscall.ERANGE)
	}
	copy(op.Dst, value)
	return nil
}

// SetXattr writes one named extended attribute.
func (d *Dispatcher) SetXattr(op *fuseops.SetXattrOp) error {
	rec, err := d.resolveForXattr(op.Inode)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	if err := d.checkWritable(string(d.primaryPath(rec))); err != nil {
		return err
	}
	if err := xattr.LSet(string(d.primaryPath(rec)), op.Name, op.Value); err != nil {
		return ferrors.FromHostError(mapXattrErr(err))
	}
	return nil
}

// ListXattr lists the names of every extended attribute on the target.
func (d *Dispatcher) ListXattr(op *fuseops.ListXattrOp) error {
	rec, err := d.resolveForXattr(op.Inode)
	if err != nil {
		return ferrors.FromHostError(err)
	}

	names, err := xattr.LList(string(d.primaryPath(rec)))
	if err != nil {
		return ferrors.FromHostError(mapXattrErr(err))
	}

	joined := strings.Join(names, "\x00")
	if len(names) > 0 {
		joined += "\x00"
	}

	op.BytesRead = len(joined)
	if len(op.Dst) == 0 {
		return nil
	}
	if len(op.Dst) < len(joined) {
		return ferrors.FromHostError(syscall.ERANGE)
	}
	copy(op.Dst, joined)
	return nil
}

// RemoveXattr deletes one named extended attribute.
func (d *Dispatcher) RemoveXattr(op *fuseops.RemoveXattrOp) error {
	rec, err := d.resolveForXattr(op.Inode)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	if err := d.checkWritable(string(d.primaryPath(rec))); err != nil {
		return err
	}
	if err := xattr.LRemove(string(d.primaryPath(rec)), op.Name); err != nil {
		return ferrors.FromHostError(mapXattrErr(err))
	}
	return nil
}

// mapXattrErr unwraps the *xattr.Error wrapper the library returns so
// ferrors.FromHostError sees the underlying errno.
func mapXattrErr(err error) error {
	if xe, ok := err.(*xattr.Error); ok {
		return xe.Err
	}
	return err
}
