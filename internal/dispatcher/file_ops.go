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
	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"

	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/metrics"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

const devNull = "/dev/null"

// CreateFile implements the "create" verb (spec §4.4): discard targets bind
// a /dev/null descriptor to the null sink, write-gated targets open a real
// descriptor with O_CREAT|O_TRUNC, and a pseudo target (shadowing the
// control subtree) is refused outright.
func (d *Dispatcher) CreateFile(op *fuseops.CreateFileOp) error {
	parent, ok := d.manager.Get(vnode.ID(op.Parent))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.childPath(parent, op.Name)

	if d.blockedByPseudo(path) {
		return ferrors.FromHostError(ferrors.ErrAccessDenied)
	}

	if d.auditor.AskDiscard(string(path)) {
		null := d.tree.NullSink
		d.manager.AddPath(null, path, true)

		fd, err := unix.Open(devNull, unix.O_RDWR, 0)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		d.manager.OpenFD(null, vnode.FD(fd), path, int(op.Flags), true)
		metrics.OpenFDs.Inc()

		attrs, err := d.attrsFor(null, path)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(null.ID()), Attributes: attrs}
		op.Handle = fuseops.HandleID(fd)
		return nil
	}

	if err := d.checkWritable(string(path)); err != nil {
		return err
	}

	fd, err := unix.Open(string(path), unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, uint32(op.Mode.Perm()))
	if err != nil {
		return ferrors.FromHostError(err)
	}

	rec, err := d.manager.CreatePhysical(path)
	if err != nil {
		unix.Close(fd)
		return ferrors.FromHostError(err)
	}
	d.manager.AddPath(rec, path, true)
	d.manager.OpenFD(rec, vnode.FD(fd), path, int(op.Flags), false)
	metrics.OpenFDs.Inc()

	attrs, err := hostAttrs(string(path))
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(rec.ID()), Attributes: attrs}
	op.Handle = fuseops.HandleID(fd)

	d.recordAccess(string(path), true, true)
	d.accessLogger.Info("create", "path", path)
	return nil
}

// OpenFile implements the "open" verb's three-way split: pseudo nodes get a
// /dev/null descriptor and bypass the auditor entirely (the control plane
// must always be reachable); discard targets open the real file read-only
// and are marked so writes through this handle are faked; everything else
// is gated on the requested access mode before a real descriptor is taken.
func (d *Dispatcher) OpenFile(op *fuseops.OpenFileOp) error {
	rec, ok := d.manager.Get(vnode.ID(op.Inode))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}
	path := d.primaryPath(rec)
	flags := int(op.Flags)

	if rec.IsPseudo() {
		fd, err := unix.Open(devNull, unix.O_RDWR, 0)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		d.manager.OpenFD(rec, vnode.FD(fd), path, flags, false)
		metrics.OpenFDs.Inc()
		op.Handle = fuseops.HandleID(fd)
		return nil
	}

	wantsWrite := flags&(unix.O_WRONLY|unix.O_RDWR) != 0
	wantsRead := flags&unix.O_WRONLY == 0

	if d.auditor.AskDiscard(string(path)) {
		fd, err := unix.Open(string(path), unix.O_RDONLY, 0)
		if err != nil {
			return ferrors.FromHostError(err)
		}
		d.manager.OpenFD(rec, vnode.FD(fd), path, flags, true)
		metrics.OpenFDs.Inc()
		op.Handle = fuseops.HandleID(fd)
		return nil
	}

	if wantsRead {
		if err := d.checkReadable(string(path)); err != nil {
			return err
		}
	}
	if wantsWrite {
		if err := d.checkWritable(string(path)); err != nil {
			return err
		}
	}

	fd, err := unix.Open(string(path), flags, 0)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	d.manager.OpenFD(rec, vnode.FD(fd), path, flags, false)
	metrics.OpenFDs.Inc()
	op.Handle = fuseops.HandleID(fd)

	d.recordAccess(string(path), wantsRead, wantsWrite)
	d.accessLogger.Info("open", "path", path, "write", wantsWrite)
	return nil
}

// ReadFile serves a read against an open handle, routing to the pseudo
// handler when the underlying record is synthetic.
func (d *Dispatcher) ReadFile(op *fuseops.ReadFileOp) error {
	rec, ok := d.manager.GetByFD(vnode.FD(op.Handle))
	if !ok {
		return ferrors.FromHostError(unix.EBADF)
	}

	if rec.IsPseudo() {
		data, err := rec.Handler().Read(op.Offset, len(op.Dst))
		if err != nil {
			return ferrors.FromHostError(err)
		}
		op.BytesRead = copy(op.Dst, data)
		return nil
	}

	n, err := unix.Pread(int(op.Handle), op.Dst, op.Offset)
	if err != nil {
		return ferrors.FromHostError(err)
	}
	op.BytesRead = n
	return nil
}

// WriteFile serves a write against an open handle. A discard-marked
// handle fakes success without touching the host; a pseudo handle routes
// through its handler, which reparses the acl/acl_switch control files.
func (d *Dispatcher) WriteFile(op *fuseops.WriteFileOp) error {
	rec, ok := d.manager.GetByFD(vnode.FD(op.Handle))
	if !ok {
		return ferrors.FromHostError(unix.EBADF)
	}

	if rec.IsPseudo() {
		truncate := rec.FDFlags(vnode.FD(op.Handle))&unix.O_TRUNC != 0
		if rec == d.tree.Acl || rec == d.tree.AclSwitch {
			metrics.PseudoWrites.WithLabelValues(pseudoFileName(d, rec)).Inc()
		}
		_, err := rec.Handler().Write(op.Offset, op.Data, truncate)
		return ferrors.FromHostError(err)
	}

	if rec.FDDiscard(vnode.FD(op.Handle)) {
		return nil
	}

	_, err := unix.Pwrite(int(op.Handle), op.Data, op.Offset)
	return ferrors.FromHostError(err)
}

func pseudoFileName(d *Dispatcher, rec *vnode.Record) string {
	switch rec {
	case d.tree.Acl:
		return "acl"
	case d.tree.AclSwitch:
		return "acl_switch"
	case d.tree.VersionRec:
		return "version"
	default:
		return "unknown"
	}
}

// ReleaseFileHandle closes a file's host (or /dev/null) descriptor.
func (d *Dispatcher) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	if rec, ok := d.manager.GetByFD(vnode.FD(op.Handle)); ok {
		unix.Close(int(op.Handle))
		d.manager.CloseFD(rec, vnode.FD(op.Handle))
		metrics.OpenFDs.Dec()
	}
	return nil
}

// FlushFile has no durability work to do: every write already lands
// directly on the host descriptor or the in-memory pseudo state.
func (d *Dispatcher) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

// SyncFile fsyncs a physical handle; pseudo and discard handles have
// nothing backing them on the host.
func (d *Dispatcher) SyncFile(op *fuseops.SyncFileOp) error {
	rec, ok := d.manager.GetByFD(vnode.FD(op.Handle))
	if !ok || rec.IsPseudo() || rec.FDDiscard(vnode.FD(op.Handle)) {
		return nil
	}
	return ferrors.FromHostError(unix.Fsync(int(op.Handle)))
}
