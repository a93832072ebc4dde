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

// discardEntry fakes the creation of path by binding it to the null sink
// instead of touching the host (spec §4.4: every creation verb consults
// ask_discard before doing real I/O). adjustType lets callers force the
// synthesized mode's file-type bit (e.g. S_IFDIR for mkdir).
func (d *Dispatcher) discardEntry(path vnode.Path, adjustType os.FileMode) (fuseops.ChildInodeEntry, error) {
	null := d.tree.NullSink
	d.manager.AddPath(null, path, true)

	attrs, err := d.attrsFor(null, path)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}
	if adjustType != 0 {
		attrs.Mode = (attrs.Mode &^ os.ModeType) | adjustType
	}

	return fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(null.ID()),
		Attributes: attrs,
	}, nil
}

// MkDir creates a directory, or fakes one on the null sink if the target is
// under a discard rule.
func (d *Dispatcher) MkDir(op *fuseops.MkDirOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	if d.blockedByPseudo(path) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		entry, err := d.discardEntry(path, os.ModeDir)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Entry = entry
		d.accessLogger.Info("mkdir (discarded)", "path", path)
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}
	if err := os.Mkdir(string(path), op.Mode); err != nil {
		return ferrors.FromHostError(err)
	}

	rec, err := d.manager.CreatePhysical(path)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	d.manager.AddPath(rec, path, true)

	attrs, err := hostAttrs(string(path))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(rec.ID()), Attributes: attrs}
	d.accessLogger.Info("mkdir", "path", path)
	return nil
}

// MkNode creates a regular file without opening it. FUSE mostly reserves
// this for special files; fusebox treats every target as a regular file,
// matching the single-file-kind model spec §3 describes.
func (d *Dispatcher) MkNode(op *fuseops.MkNodeOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	if d.blockedByPseudo(path) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		entry, err := d.discardEntry(path, 0)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Entry = entry
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}
	devMode := uint32(op.Mode.Perm()) | unix.S_IFREG
	if err := unix.Mknod(string(path), devMode, 0); err != nil {
		return ferrors.FromHostError(err)
	}

	rec, err := d.manager.CreatePhysical(path)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	d.manager.AddPath(rec, path, true)

	attrs, err := hostAttrs(string(path))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(rec.ID()), Attributes: attrs}
	return nil
}

// CreateSymlink creates a symlink, subject to the same discard/pseudo rules
// as every other creation verb.
func (d *Dispatcher) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	if d.blockedByPseudo(path) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		entry, err := d.discardEntry(path, os.ModeSymlink)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Entry = entry
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}
	if err := os.Symlink(op.Target, string(path)); err != nil {
		return ferrors.FromHostError(err)
	}

	rec, err := d.manager.CreatePhysical(path)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	d.manager.AddPath(rec, path, true)

	attrs, err := hostAttrs(string(path))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(rec.ID()), Attributes: attrs}
	d.accessLogger.Info("symlink", "path", path, "target", op.Target)
	return nil
}

// CreateLink hard-links an existing inode to a new name. Every path a
// record carries shares one vnode number (spec §3), so the new path is
// simply added to the target record rather than minting a new one.
func (d *Dispatcher) CreateLink(op *fuseops.CreateLinkOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	target, ok := d.manager.Get(vnode.ID(op.Target))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	if target.IsPseudo() {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	path := d.childPath(parent, op.Name)
	if d.blockedByPseudo(path) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		entry, err := d.discardEntry(path, 0)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Entry = entry
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}

	existing := d.primaryPath(target)
	if err := os.Link(string(existing), string(path)); err != nil {
		return ferrors.FromHostError(err)
	}
	d.manager.AddPath(target, path, true)

	attrs, err := hostAttrs(string(path))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(target.ID()), Attributes: attrs}
	d.accessLogger.Info("link", "existing", existing, "new", path)
	return nil
}

// ReadSymlink returns a symlink's target.
func (d *Dispatcher) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	rec, ok := d.manager.Get(vnode.ID(op.Inode))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	if rec.IsPseudo() {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	target, err := os.Readlink(string(d.primaryPath(rec)))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Target = target
	return nil
}
