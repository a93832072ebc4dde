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
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"

	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/metrics"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

// LookUpInode resolves a (parent, name) pair to a vnode, minting a physical
// record on first sight and bumping the kernel's lookup count every time
// (spec §4.2's "lookup" contract).
func (d *Dispatcher) LookUpInode(op *fuseops.LookUpInodeOp) error {
	rec, path, err := d.resolveChild(op.Parent, op.Name)
	if err != nil {
		return err
	}

	d.manager.AddPath(rec, path, true)
	metrics.VnodeTableSize.Set(float64(d.tableSize()))

	attrs, err := d.attrsFor(rec, path)
	if err != nil {
		return ferrors.FromHostError(err)
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(rec.ID()),
		Attributes: attrs,
	}
	return nil
}

// GetInodeAttributes refreshes a cached inode's attributes.
func (d *Dispatcher) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	rec, ok := d.manager.Get(vnode.ID(op.Inode))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}

	path := d.primaryPath(rec)
	attrs, err := d.attrsFor(rec, path)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Attributes = attrs
	return nil
}

// SetInodeAttributes applies chmod/truncate/utimes to a physical inode.
// There is no access-class gate here (spec §4.4 notes setattr is
// ungated); pseudo records silently ignore mutation and echo their
// synthesized attributes back.
func (d *Dispatcher) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	rec, ok := d.manager.Get(vnode.ID(op.Inode))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}

	path := d.primaryPath(rec)
	if rec.IsPseudo() {
		attrs, err := d.attrsFor(rec, path)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Attributes = attrs
		return nil
	}

	hostPath := string(path)
	if op.Size != nil {
		if err := os.Truncate(hostPath, int64(*op.Size)); err != nil {
			return ferrors.FromHostError(err)
		}
	}
	if op.Mode != nil {
		if err := os.Chmod(hostPath, *op.Mode); err != nil {
			return ferrors.FromHostError(err)
		}
	}
	if op.Atime != nil || op.Mtime != nil {
		fi, err := os.Lstat(hostPath)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		atime, mtime := currentTimes(fi)
		if op.Atime != nil {
			atime = *op.Atime
		}
		if op.Mtime != nil {
			mtime = *op.Mtime
		}
		if err := os.Chtimes(hostPath, atime, mtime); err != nil {
			return ferrors.FromHostError(err)
		}
	}

	attrs, err := hostAttrs(hostPath)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Attributes = attrs
	return nil
}

func currentTimes(fi os.FileInfo) (atime, mtime time.Time) {
	mtime = fi.ModTime()
	atime = mtime
	return
}

// ForgetInode applies a (vnode, n) decrement from the kernel's inode cache
// eviction (spec §4.2's "forget").
func (d *Dispatcher) ForgetInode(op *fuseops.ForgetInodeOp) error {
	d.manager.Forget(vnode.ID(op.Inode), int(op.N))
	metrics.VnodeTableSize.Set(float64(d.tableSize()))
	return nil
}

// StatFS reports host filesystem statistics. Spec §4.4's "statfs" contract
// calls for the reported name-length ceiling to be reduced by the overlay
// path prefix spliced onto every composed path, but fuseops.StatFSOp carries
// no name-max field in this transport (see DESIGN.md) so that reduction has
// no output to land in.
func (d *Dispatcher) StatFS(op *fuseops.StatFSOp) error {
	var st unix.Statfs_t
	if err := unix.Statfs(string(d.manager.SourceRoot()), &st); err != nil {
		return ferrors.FromHostError(err)
	}

	op.IoSize = uint32(st.Bsize)
	op.BlockSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	return nil
}

// primaryPath picks the path used to reach a record when any one of its
// paths is sufficient (attribute refresh, setattr).
func (d *Dispatcher) primaryPath(rec *vnode.Record) vnode.Path {
	paths := rec.Paths()
	if len(paths) == 0 {
		return d.manager.SourceRoot()
	}
	return paths[0]
}

func (d *Dispatcher) tableSize() int {
	return d.manager.Size()
}
