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

package dispatcher

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"

	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

// Unlink removes a file's directory entry. A pseudo target is refused
// outright: the control subtree is never mutable through ordinary
// filesystem verbs (invariant 6).
func (d *Dispatcher) Unlink(op *fuseops.UnlinkOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	rec, found := d.manager.Lookup(path)
	if found && rec.IsPseudo() {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		if found {
			d.manager.RemovePath(rec, path)
		}
		d.accessLogger.Info("unlink (discarded)", "path", path)
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}
	if err := os.Remove(string(path)); err != nil {
		return ferrors.FromHostError(err)
	}
	if found {
		d.manager.RemovePath(rec, path)
	}
	d.accessLogger.Info("unlink", "path", path)
	return nil
}

// RmDir removes an empty directory's entry.
func (d *Dispatcher) RmDir(op *fuseops.RmDirOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	rec, found := d.manager.Lookup(path)
	if found && rec.IsPseudo() {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		if found {
			d.manager.RemovePath(rec, path)
		}
		d.accessLogger.Info("rmdir (discarded)", "path", path)
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}
	if err := os.Remove(string(path)); err != nil {
		return ferrors.FromHostError(err)
	}
	if found {
		d.manager.RemovePath(rec, path)
	}
	d.accessLogger.Info("rmdir", "path", path)
	return nil
}

// Rename moves a directory entry, preserving the moved record's vnode
// identity (spec §4.2 scenario S4): the new path is added before the old
// one is removed so the record is never briefly unreferenced.
func (d *Dispatcher) Rename(op *fuseops.RenameOp) error {
	oldParent, ok := d.manager.Get(vnode.ID(op.OldParent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	newParent, ok := d.manager.Get(vnode.ID(op.NewParent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}

	oldPath := d.childPath(oldParent, op.OldName)
	newPath := d.childPath(newParent, op.NewName)

	rec, found := d.manager.Lookup(oldPath)
	if found && rec.IsPseudo() {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}
	if d.blockedByPseudo(newPath) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if err := d.checkWritable(string(newPath)); err != nil {
		return err
	}

	if err := os.Rename(string(oldPath), string(newPath)); err != nil {
		return ferrors.FromHostError(err)
	}

	if found {
		d.manager.AddPath(rec, newPath, false)
		d.manager.RemovePath(rec, oldPath)
	}
	d.accessLogger.Info("rename", "from", oldPath, "to", newPath)
	return nil
}
