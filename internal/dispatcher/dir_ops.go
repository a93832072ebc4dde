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
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

// OpenDir snapshots a directory's entries (spec §4.4 "readdir"'s listing
// freeze at open time) and mints a dispatcher-local handle for it. Pseudo
// directories list via their handler; the source root gets the controller
// name spliced in so it's visible without being a real host entry.
func (d *Dispatcher) OpenDir(op *fuseops.OpenDirOp) error {
	rec, ok := d.manager.Get(vnode.ID(op.Inode))
	if !ok {
		return ferrors.FromHostError(unix.ENOENT)
	}

	var names []string
	if rec.IsPseudo() {
		var err error
		names, err = rec.Handler().Listdir()
		if err != nil {
			return ferrors.FromHostError(err)
		}
	} else {
		path := d.primaryPath(rec)
		entries, err := os.ReadDir(string(path))
		if err != nil {
			return ferrors.FromHostError(err)
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		if path == d.manager.SourceRoot() {
			names = append(names, controllerDirName(d))
		}
	}

	d.nextDirHandle++
	handle := d.nextDirHandle
	d.dirHandles[handle] = &dirListing{parent: rec, path: d.primaryPath(rec), names: names}
	op.Handle = handle
	return nil
}

func controllerDirName(d *Dispatcher) string {
	paths := d.tree.Root.Paths()
	if len(paths) == 0 {
		return ""
	}
	return string(paths[0])[len(d.manager.SourceRoot())+1:]
}

// ReadDir serves entries from the frozen snapshot at op.Offset, the
// index-as-offset scheme spec §4.4 prescribes for listings with no stable
// host cursor.
func (d *Dispatcher) ReadDir(op *fuseops.ReadDirOp) error {
	dl, ok := d.dirHandles[op.Handle]
	if !ok {
		return ferrors.FromHostError(unix.EBADF)
	}

	for i := int(op.Offset); i < len(dl.names); i++ {
		name := dl.names[i]
		childPath := d.manager.MakePath(dl.path, name)

		var inode fuseops.InodeID
		var dtype fuseutil.DirentType
		if rec, ok := d.manager.Lookup(childPath); ok {
			inode = fuseops.InodeID(rec.ID())
			if rec.IsPseudo() {
				if rec.Handler().IsDir() {
					dtype = fuseutil.DT_Directory
				} else {
					dtype = fuseutil.DT_File
				}
			} else {
				dtype = hostDirentType(string(childPath))
			}
		} else {
			dtype = hostDirentType(string(childPath))
		}

		dirent := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  inode,
			Name:   name,
			Type:   dtype,
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}

func hostDirentType(path string) fuseutil.DirentType {
	fi, err := os.Lstat(path)
	if err != nil {
		return fuseutil.DT_Unknown
	}
	switch {
	case fi.IsDir():
		return fuseutil.DT_Directory
	case fi.Mode()&os.ModeSymlink != 0:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

// ReleaseDirHandle drops a directory listing snapshot.
func (d *Dispatcher) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	delete(d.dirHandles, op.Handle)
	return nil
}
