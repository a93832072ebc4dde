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

package pseudo

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jacobsa/timeutil"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/fuseboxfs/fusebox/internal/auditor"
	"github.com/fuseboxfs/fusebox/internal/vnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T) (*Tree, *auditor.Auditor) {
	t.Helper()
	dir := t.TempDir()
	m, err := vnode.NewManager(dir, true)
	require.NoError(t, err)
	a := auditor.New(cfg.Whitelist, true)
	tree := Build(m, vnode.Path(filepath.Join(dir, "fuseboxctlv1")), a, timeutil.RealClock())
	return tree, a
}

func TestRootListsThreeControllers(t *testing.T) {
	tree, _ := newTree(t)
	names, err := tree.Root.Handler().Listdir()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acl", "acl_switch", "version"}, names)
}

// TestAclReadRendersClearAllThenRules is scenario S6 (half): rendering
// after a reconfiguring write begins with the header comment, carries a
// clearall line, and contains the new rules.
func TestAclReadRendersClearAllThenRules(t *testing.T) {
	tree, a := newTree(t)
	h := tree.Acl.Handler()

	n, err := h.Write(0, []byte("allowread /foo\ndenywrite /bar\n"), true)
	require.NoError(t, err)
	assert.Equal(t, len("allowread /foo\ndenywrite /bar\n"), n)

	assert.True(t, a.AskReadable("/foo/x"))
	assert.False(t, a.AskWritable("/bar/x"))

	attr, err := h.Getattr()
	require.NoError(t, err)
	content, err := h.Read(0, int(attr.Size))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "#"))
	assert.Contains(t, string(content), "clearall\n")
	assert.Contains(t, string(content), "allowread /foo\n")
	assert.Contains(t, string(content), "denywrite /bar\n")
}

func TestAclWriteWithoutTruncateSplicesExistingState(t *testing.T) {
	tree, a := newTree(t)
	h := tree.Acl.Handler()

	_, err := h.Write(0, []byte("allowread /foo\n"), true)
	require.NoError(t, err)

	before := a.AskReadable("/foo")
	assert.True(t, before)

	// Append another rule without truncating; prior state must survive.
	attr, _ := h.Getattr()
	_, err = h.Write(int64(attr.Size), []byte("allowwrite /foo\n"), false)
	require.NoError(t, err)

	assert.True(t, a.AskReadable("/foo"))
	assert.True(t, a.AskWritable("/foo"))
}

func TestAclSwitchTogglesEnabled(t *testing.T) {
	tree, a := newTree(t)
	h := tree.AclSwitch.Handler()

	n, err := h.Write(0, []byte("0"), false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, a.Enabled())

	content, err := h.Read(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "0", string(content))

	_, err = h.Write(0, []byte("1"), false)
	require.NoError(t, err)
	assert.True(t, a.Enabled())
}

func TestAclSwitchRejectsInvalidByte(t *testing.T) {
	tree, _ := newTree(t)
	h := tree.AclSwitch.Handler()

	_, err := h.Write(0, []byte("x"), false)
	assert.Error(t, err)
}

func TestVersionFileReadOnly(t *testing.T) {
	tree, _ := newTree(t)
	h := tree.VersionRec.Handler()

	content, err := h.Read(0, 4096)
	require.NoError(t, err)
	assert.Contains(t, string(content), VersionBase)

	_, err = h.Write(0, []byte("x"), false)
	assert.Error(t, err)
}

func TestNullSinkReadsEmptyAndWritesDiscard(t *testing.T) {
	tree, _ := newTree(t)
	h := tree.NullSink.Handler()

	content, err := h.Read(0, 16)
	require.NoError(t, err)
	assert.Empty(t, content)

	n, err := h.Write(0, []byte("whatever"), false)
	require.NoError(t, err)
	assert.Equal(t, len("whatever"), n)
}
