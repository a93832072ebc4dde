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
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/fuseboxfs/fusebox/internal/accesslog"
	"github.com/fuseboxfs/fusebox/internal/auditor"
	"github.com/fuseboxfs/fusebox/internal/vnode"
)

// newTestDispatcher builds a Dispatcher rooted at a fresh temp directory,
// with the auditor in the given security model and switch state.
func newTestDispatcher(t *testing.T, model cfg.SecurityModel, enabled bool) *Dispatcher {
	t.Helper()
	src := t.TempDir()

	c := &cfg.Config{
		Source:         cfg.ResolvedPath(src),
		ControllerName: "fuseboxctlv1",
		SecurityModel:  model,
		AuditorEnabled: enabled,
	}
	a := auditor.New(model, enabled)
	d, err := New(c, a, accesslog.NewRecorder())
	require.NoError(t, err)
	return d
}

func lookup(t *testing.T, d *Dispatcher, parent fuseops.InodeID, name string) *fuseops.LookUpInodeOp {
	t.Helper()
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	require.NoError(t, d.LookUpInode(op))
	return op
}

// S2: a discard rule on a mkdir target binds it to the null sink instead of
// creating anything on the host.
func TestMkDirUnderDiscardRuleDoesNotTouchHost(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)
	root := string(d.manager.SourceRoot())
	d.auditor.AllowWrite(root)
	d.auditor.DiscardWrite(filepath.Join(root, "sandbox"))

	op := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sandbox", Mode: os.ModeDir | 0755}
	require.NoError(t, d.MkDir(op))

	hostPath := filepath.Join(string(d.manager.SourceRoot()), "sandbox")
	_, statErr := os.Stat(hostPath)
	assert.True(t, os.IsNotExist(statErr), "mkdir under a discard rule must not create a host entry")

	rec, ok := d.manager.Get(vnode.ID(op.Entry.Child))
	require.True(t, ok)
	assert.Same(t, d.tree.NullSink, rec)
}

// S3: a discard rule on an open-for-write target fakes every subsequent
// write as successful without mutating the host file.
func TestWriteUnderDiscardRuleFakesSuccessWithoutHostMutation(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)
	root := string(d.manager.SourceRoot())
	d.auditor.AllowWrite(root)
	d.auditor.AllowRead(root)
	d.auditor.DiscardWrite(filepath.Join(root, "scratch.txt"))

	hostPath := filepath.Join(root, "scratch.txt")
	require.NoError(t, os.WriteFile(hostPath, []byte("original"), 0644))

	entry := lookup(t, d, fuseops.RootInodeID, "scratch.txt")

	openOp := &fuseops.OpenFileOp{Inode: entry.Entry.Child, Flags: os.O_WRONLY}
	require.NoError(t, d.OpenFile(openOp))

	writeOp := &fuseops.WriteFileOp{Handle: openOp.Handle, Offset: 0, Data: []byte("clobbered")}
	require.NoError(t, d.WriteFile(writeOp))

	require.NoError(t, d.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))

	content, err := os.ReadFile(hostPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content), "a discarded write must never reach the host file")
}

// Spec §4.4 discard semantics extend to deletion: a discard rule on an
// unlink/rmdir target must succeed without touching the host entry at all,
// rather than letting a passing write gate delete it for real.
func TestUnlinkUnderDiscardRuleDoesNotTouchHost(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)
	root := string(d.manager.SourceRoot())
	d.auditor.AllowWrite(root)
	d.auditor.DiscardWrite(filepath.Join(root, "scratch.txt"))

	hostPath := filepath.Join(root, "scratch.txt")
	require.NoError(t, os.WriteFile(hostPath, []byte("original"), 0644))
	lookup(t, d, fuseops.RootInodeID, "scratch.txt")

	op := &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "scratch.txt"}
	require.NoError(t, d.Unlink(op))

	_, statErr := os.Stat(hostPath)
	assert.NoError(t, statErr, "unlink under a discard rule must not remove the host entry")
}

func TestRmDirUnderDiscardRuleDoesNotTouchHost(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)
	root := string(d.manager.SourceRoot())
	d.auditor.AllowWrite(root)
	d.auditor.DiscardWrite(filepath.Join(root, "sandbox"))

	hostPath := filepath.Join(root, "sandbox")
	require.NoError(t, os.Mkdir(hostPath, 0755))
	lookup(t, d, fuseops.RootInodeID, "sandbox")

	op := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "sandbox"}
	require.NoError(t, d.RmDir(op))

	_, statErr := os.Stat(hostPath)
	assert.NoError(t, statErr, "rmdir under a discard rule must not remove the host entry")
}

// S5: ReadDir on the source root must inject the controller directory name
// alongside the real host entries, since it has no backing dirent.
func TestReadDirOnSourceRootInjectsController(t *testing.T) {
	d := newTestDispatcher(t, cfg.Blacklist, false)
	require.NoError(t, os.WriteFile(filepath.Join(string(d.manager.SourceRoot()), "real.txt"), []byte("x"), 0644))

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, d.OpenDir(openOp))

	dl := d.dirHandles[openOp.Handle]
	require.NotNil(t, dl)
	assert.Contains(t, dl.names, "real.txt")
	assert.Contains(t, dl.names, "fuseboxctlv1")
}

// S7: in whitelist mode, an unmatched path is denied both read and write,
// and the dispatcher surfaces that as a permission error on open.
func TestWhitelistDeniesUnmatchedPathOnOpen(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)
	hostPath := filepath.Join(string(d.manager.SourceRoot()), "secret.txt")
	require.NoError(t, os.WriteFile(hostPath, []byte("classified"), 0644))

	entry := lookup(t, d, fuseops.RootInodeID, "secret.txt")

	openOp := &fuseops.OpenFileOp{Inode: entry.Entry.Child, Flags: os.O_RDONLY}
	err := d.OpenFile(openOp)
	assert.Equal(t, fuse.EACCES, err, "an auditor denial must surface as EACCES, not the EIO fallback an untranslated error maps to")
}

// The pseudo control subtree bypasses the auditor entirely: even a fully
// whitelisted-and-matching-nothing mount must still let the acl file open
// and read so the control plane is always reachable.
func TestPseudoFilesBypassAuditor(t *testing.T) {
	d := newTestDispatcher(t, cfg.Whitelist, true)

	ctl := lookup(t, d, fuseops.RootInodeID, "fuseboxctlv1")
	acl := lookup(t, d, ctl.Entry.Child, "acl")

	openOp := &fuseops.OpenFileOp{Inode: acl.Entry.Child, Flags: os.O_RDONLY}
	require.NoError(t, d.OpenFile(openOp))

	readOp := &fuseops.ReadFileOp{Handle: openOp.Handle, Dst: make([]byte, 4096)}
	require.NoError(t, d.ReadFile(readOp))
	assert.Contains(t, string(readOp.Dst[:readOp.BytesRead]), "clearall")
}

// Creation verbs must never shadow a name already bound to the control
// subtree (invariant 6).
func TestMkDirCannotShadowController(t *testing.T) {
	d := newTestDispatcher(t, cfg.Blacklist, false)
	lookup(t, d, fuseops.RootInodeID, "fuseboxctlv1")

	op := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "fuseboxctlv1", Mode: os.ModeDir | 0755}
	err := d.MkDir(op)
	assert.Error(t, err)
}
