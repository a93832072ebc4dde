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

package vnode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, true)
	require.NoError(t, err)
	return m, dir
}

func TestNewManagerInstallsRoot(t *testing.T) {
	m, dir := newTestManager(t)

	root, ok := m.Get(RootID)
	require.True(t, ok)
	assert.Equal(t, KindPhysical, root.Kind())
	assert.Equal(t, []Path{Path(dir)}, root.Paths())
	assert.True(t, root.Persistent())
}

func TestVnodeNumbersAreStrictlyMonotone(t *testing.T) {
	m, dir := newTestManager(t)
	f1 := filepath.Join(dir, "f1")
	f2 := filepath.Join(dir, "f2")
	require.NoError(t, os.WriteFile(f1, nil, 0644))
	require.NoError(t, os.WriteFile(f2, nil, 0644))

	r1, err := m.CreatePhysical(Path(f1))
	require.NoError(t, err)
	r2, err := m.CreatePhysical(Path(f2))
	require.NoError(t, err)

	assert.Greater(t, r2.ID(), r1.ID())
	assert.Greater(t, r1.ID(), RootID)
}

func TestAddPathCollisionEvictsPriorOwner(t *testing.T) {
	m, dir := newTestManager(t)
	f1 := filepath.Join(dir, "f1")
	require.NoError(t, os.WriteFile(f1, nil, 0644))

	a, err := m.CreatePhysical(Path(f1))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f2"), nil, 0644))
	b, err := m.CreatePhysical(Path(filepath.Join(dir, "f2")))
	require.NoError(t, err)

	m.AddPath(b, Path(f1), false)

	assert.NotContains(t, a.Paths(), Path(f1))
	r, ok := m.Lookup(Path(f1))
	require.True(t, ok)
	assert.Equal(t, b.ID(), r.ID())
}

func TestRenamePreservesIdentity(t *testing.T) {
	// Scenario S4: rename keeps the same vnode number and swaps its path.
	m, dir := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0755))
	oldPath := Path(filepath.Join(dir, "a", "f1"))
	require.NoError(t, os.WriteFile(string(oldPath), nil, 0644))

	r, err := m.CreatePhysical(oldPath)
	require.NoError(t, err)
	id := r.ID()

	newPath := Path(filepath.Join(dir, "b", "f2"))
	require.NoError(t, os.Rename(string(oldPath), string(newPath)))

	m.AddPath(r, newPath, false)
	m.RemovePath(r, oldPath)

	assert.Equal(t, id, r.ID())
	assert.Equal(t, []Path{newPath}, r.Paths())
}

func TestForgetDropsRecordAtZeroRefcountWithNoFDs(t *testing.T) {
	m, dir := newTestManager(t)
	p := Path(filepath.Join(dir, "f1"))
	require.NoError(t, os.WriteFile(string(p), nil, 0644))

	r, err := m.CreatePhysical(p)
	require.NoError(t, err)
	m.AddPath(r, p, true)
	m.AddPath(r, p, true) // refcount now 2 (+1 from CreatePhysical's bind is not a ref bump)

	m.Forget(r.ID(), 1)
	_, stillThere := m.Get(r.ID())
	assert.True(t, stillThere, "record should survive until refcount hits zero")

	m.Forget(r.ID(), 1)
	_, stillThere = m.Get(r.ID())
	assert.False(t, stillThere)
}

func TestForgetDoesNotDropRecordWithOpenFD(t *testing.T) {
	m, dir := newTestManager(t)
	p := Path(filepath.Join(dir, "f1"))
	require.NoError(t, os.WriteFile(string(p), nil, 0644))

	r, err := m.CreatePhysical(p)
	require.NoError(t, err)
	m.AddPath(r, p, true)
	m.OpenFD(r, FD(42), p, 0, false)

	m.Forget(r.ID(), 1)
	_, stillThere := m.Get(r.ID())
	assert.True(t, stillThere, "record with an open fd must survive forget-to-zero")

	m.CloseFD(r, FD(42))
	_, stillThere = m.Get(r.ID())
	assert.False(t, stillThere)
}

func TestLazyPruneRemovesStalePaths(t *testing.T) {
	m, dir := newTestManager(t)
	p := Path(filepath.Join(dir, "f1"))
	require.NoError(t, os.WriteFile(string(p), nil, 0644))

	r, err := m.CreatePhysical(p)
	require.NoError(t, err)
	m.AddPath(r, p, true)

	require.NoError(t, os.Remove(string(p)))

	_, ok := m.Lookup(p)
	assert.False(t, ok)
	assert.NotContains(t, r.Paths(), p)
}

func TestRootNeverDroppedByForget(t *testing.T) {
	m, _ := newTestManager(t)
	m.Forget(RootID, 1000000)
	root, ok := m.Get(RootID)
	require.True(t, ok)
	assert.True(t, root.Persistent())
}

type fakeHandler struct{}

func (fakeHandler) Getattr() (Attr, error)                        { return Attr{}, nil }
func (fakeHandler) Read(int64, int) ([]byte, error)                { return nil, nil }
func (fakeHandler) Write(int64, []byte, bool) (int, error)         { return 0, nil }
func (fakeHandler) Listdir() ([]string, error)                     { return nil, nil }
func (fakeHandler) IsDir() bool                                    { return false }

func TestPseudoRecordsSurviveForgetToZero(t *testing.T) {
	m, dir := newTestManager(t)
	p := Path(filepath.Join(dir, "ctl", "acl"))
	r := m.CreatePseudo(p, fakeHandler{}, 0644)

	m.Forget(r.ID(), 1000)

	_, ok := m.Get(r.ID())
	assert.True(t, ok, "pseudo records are never destroyed")
	assert.True(t, r.Persistent())
}
