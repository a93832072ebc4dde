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

// Package pseudo implements the control subtree rooted at
// <source>/<CONTROLLER_FILENAME> (spec §4.3): a read-only directory, the
// acl and acl_switch files that drive the auditor, a static version file,
// and the null sink used to fake discarded creates and their writes.
package pseudo

import (
	"os"
	"strings"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/fuseboxfs/fusebox/internal/auditor"
	"github.com/fuseboxfs/fusebox/internal/ferrors"
	"github.com/fuseboxfs/fusebox/internal/logger"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

// VersionBase is the static part of the banner the version pseudo-file
// serves; Build appends the mount's start time, stamped by the clock
// threaded in from the dispatcher.
const VersionBase = "fusebox 1.0"

// Tree is the set of records making up the control subtree, handed back to
// the dispatcher so it can recognize and route to them directly.
type Tree struct {
	Root       *vnode.Record
	Acl        *vnode.Record
	AclSwitch  *vnode.Record
	VersionRec *vnode.Record
	NullSink   *vnode.Record
}

// Build constructs the control subtree under base and registers its
// records with mgr. base must already be the absolute path of
// <source>/<CONTROLLER_FILENAME>. clock stamps the version file's banner
// with the mount's start time.
func Build(mgr *vnode.Manager, base vnode.Path, a *auditor.Auditor, clock timeutil.Clock) *Tree {
	root := &rootController{}
	rootRec := mgr.CreatePseudo(base, root, os.ModeDir|0755)

	acl := &aclFile{auditor: a}
	aclRec := mgr.CreatePseudo(mgr.MakePath(base, "acl"), acl, 0644)

	sw := &aclSwitchFile{auditor: a}
	swRec := mgr.CreatePseudo(mgr.MakePath(base, "acl_switch"), sw, 0644)

	mountedAt := clock.Now()
	ver := &versionFile{banner: VersionBase + " mounted " + mountedAt.Format(time.RFC3339) + "\n", mountedAt: mountedAt}
	verRec := mgr.CreatePseudo(mgr.MakePath(base, "version"), ver, 0444)

	null := &nullSink{}
	nullRec := mgr.CreatePseudo(mgr.MakePath(base, ".null"), null, 0)

	return &Tree{Root: rootRec, Acl: aclRec, AclSwitch: swRec, VersionRec: verRec, NullSink: nullRec}
}

// ----------------------------------------------------------------------
// root directory

type rootController struct{}

func (rootController) IsDir() bool { return true }

func (rootController) Getattr() (vnode.Attr, error) {
	return vnode.Attr{Mode: os.ModeDir | 0755, Nlink: 2, Mtime: time.Now()}, nil
}

func (rootController) Listdir() ([]string, error) {
	return []string{"acl", "acl_switch", "version"}, nil
}

func (rootController) Read(int64, int) ([]byte, error) {
	return nil, ferrors.ErrAccessDenied
}

func (rootController) Write(int64, []byte, bool) (int, error) {
	return 0, ferrors.ErrAccessDenied
}

// ----------------------------------------------------------------------
// acl file

type aclFile struct {
	auditor *auditor.Auditor
}

func (*aclFile) IsDir() bool { return false }

func (f *aclFile) Getattr() (vnode.Attr, error) {
	content := f.auditor.Render()
	return vnode.Attr{Size: uint64(len(content)), Mode: 0644, Nlink: 1, Mtime: time.Now()}, nil
}

func (f *aclFile) Read(offset int64, length int) ([]byte, error) {
	content := f.auditor.Render()
	return sliceAt(content, offset, length), nil
}

// Write implements the splice-then-reparse semantics of spec §4.3: a
// truncating write starts from empty state; otherwise the write splices
// into the currently rendered state at offset. The result is parsed line
// by line and applied to the auditor; unrecognized verbs are logged and
// skipped, never surfaced as an error to the caller.
func (f *aclFile) Write(offset int64, buf []byte, truncate bool) (int, error) {
	base := ""
	if !truncate {
		base = f.auditor.Render()
	} else {
		f.auditor.ClearAll()
	}

	merged := splice(base, offset, buf)
	for _, line := range strings.Split(merged, "\n") {
		if !f.auditor.ApplyLine(line) {
			logger.Operation().Warn("acl: unrecognized verb, skipping", "line", line)
		}
	}

	return len(buf), nil
}

// ----------------------------------------------------------------------
// acl_switch file

type aclSwitchFile struct {
	auditor *auditor.Auditor
}

func (*aclSwitchFile) IsDir() bool { return false }

func (f *aclSwitchFile) Getattr() (vnode.Attr, error) {
	return vnode.Attr{Size: 1, Mode: 0644, Nlink: 1, Mtime: time.Now()}, nil
}

func (f *aclSwitchFile) Read(offset int64, length int) ([]byte, error) {
	state := "0"
	if f.auditor.Enabled() {
		state = "1"
	}
	return sliceAt(state, offset, length), nil
}

func (f *aclSwitchFile) Write(_ int64, buf []byte, _ bool) (int, error) {
	if len(buf) == 0 {
		return 0, ferrors.ErrInvalidControlInput
	}
	switch buf[0] {
	case '0':
		f.auditor.SetEnabled(false)
	case '1':
		f.auditor.SetEnabled(true)
	default:
		return 0, ferrors.ErrInvalidControlInput
	}
	return len(buf), nil
}

// ----------------------------------------------------------------------
// version file

type versionFile struct {
	banner    string
	mountedAt time.Time
}

func (versionFile) IsDir() bool { return false }

func (v *versionFile) Getattr() (vnode.Attr, error) {
	return vnode.Attr{Size: uint64(len(v.banner)), Mode: 0444, Nlink: 1, Mtime: v.mountedAt}, nil
}

func (v *versionFile) Read(offset int64, length int) ([]byte, error) {
	return sliceAt(v.banner, offset, length), nil
}

func (v *versionFile) Write(int64, []byte, bool) (int, error) {
	return 0, ferrors.ErrAccessDenied
}

// ----------------------------------------------------------------------
// null sink — target of discarded creates and of writes through their
// descriptors (spec §4.4).
// The set of paths bound to it is tracked by its vnode.Record, not here;
// per spec §9's open question, that set is never capped.

type nullSink struct{}

func (nullSink) IsDir() bool { return false }

func (nullSink) Getattr() (vnode.Attr, error) {
	return vnode.Attr{Mode: 0644, Nlink: 1, Mtime: time.Now()}, nil
}

func (nullSink) Read(int64, int) ([]byte, error) { return []byte{}, nil }

func (nullSink) Write(_ int64, buf []byte, _ bool) (int, error) { return len(buf), nil }

// ----------------------------------------------------------------------

func sliceAt(content string, offset int64, length int) []byte {
	if offset < 0 || int(offset) >= len(content) {
		return []byte{}
	}
	end := int(offset) + length
	if end > len(content) {
		end = len(content)
	}
	return []byte(content[offset:end])
}

// splice reproduces the open-question-flagged behavior the original
// implementation suggests: a non-truncating write is merged into the
// current rendered state at offset, extending it if offset runs past the
// current end.
func splice(base string, offset int64, buf []byte) string {
	if offset < 0 {
		offset = 0
	}
	b := []byte(base)
	if int(offset) > len(b) {
		padding := make([]byte, int(offset)-len(b))
		for i := range padding {
			padding[i] = ' '
		}
		b = append(b, padding...)
	}

	end := int(offset) + len(buf)
	var out []byte
	out = append(out, b[:offset]...)
	out = append(out, buf...)
	if end < len(b) {
		out = append(out, b[end:]...)
	}
	return string(out)
}
