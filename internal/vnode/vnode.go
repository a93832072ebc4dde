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

// Package vnode implements the bidirectional vnode table described in spec
// §3/§4.2: three indexes (by vnode number, by absolute host path, by open
// host descriptor) over one set of records, tagged physical or pseudo.
package vnode

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jacobsa/syncutil"
)

// ID is a kernel-visible vnode number. RootID is the fixed identity of the
// overlay source root, mirroring fuseops.RootInodeID.
type ID uint64

const RootID ID = 1

// FD is a host file descriptor. It doubles as the kernel-visible file
// handle, matching the original implementation's FileInfo(fh=fd).
type FD int

// Path is a normalized absolute host path (no trailing slash except root).
type Path string

// Kind distinguishes host-backed records from synthetic ones.
type Kind int

const (
	KindPhysical Kind = iota
	KindPseudo
)

// Attr is the subset of inode attributes a pseudo node reports through
// Getattr, independent of the FUSE transport's own attribute type.
type Attr struct {
	Size  uint64
	Mode  os.FileMode
	Nlink uint32
	Mtime time.Time
}

// PseudoHandler is the capability set spec §9 asks for: every pseudo
// subclass (root directory, acl, acl_switch, version, null sink)
// implements this to synthesize its own attributes and I/O.
type PseudoHandler interface {
	Getattr() (Attr, error)
	Read(offset int64, length int) ([]byte, error)
	Write(offset int64, buf []byte, truncate bool) (int, error)
	Listdir() ([]string, error)
	IsDir() bool
}

type fdParam struct {
	path    Path
	flags   int
	discard bool
}

// Record is the central entity of §3: the in-memory state bound to one
// vnode number. The manager owns records by value semantics via pointer
// identity; a record holds no reference to the manager and never mutates
// its indexes — every mutation goes through a Manager method.
type Record struct {
	id   ID
	kind Kind

	paths map[Path]struct{}
	fds   map[FD]fdParam

	refcount int

	// Pseudo-only fields.
	handler  PseudoHandler
	fileMode os.FileMode
}

func (r *Record) ID() ID     { return r.id }
func (r *Record) Kind() Kind { return r.kind }
func (r *Record) IsPseudo() bool { return r.kind == KindPseudo }

// Persistent records are never destroyed by refcount/fd bookkeeping: the
// root and every pseudo node (spec §3 lifecycle, invariant 4).
func (r *Record) Persistent() bool {
	return r.id == RootID || r.kind == KindPseudo
}

func (r *Record) Refcount() int { return r.refcount }

// Paths returns a snapshot of the record's current path set.
func (r *Record) Paths() []Path {
	out := make([]Path, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	return out
}

// FDs returns a snapshot of the record's open descriptor set.
func (r *Record) FDs() []FD {
	out := make([]FD, 0, len(r.fds))
	for fd := range r.fds {
		out = append(out, fd)
	}
	return out
}

// FDDiscard reports whether fd was opened against a discard target.
func (r *Record) FDDiscard(fd FD) bool {
	return r.fds[fd].discard
}

// FDFlags reports the open flags recorded for fd.
func (r *Record) FDFlags(fd FD) int {
	return r.fds[fd].flags
}

// Handler returns the pseudo capability implementation. Nil for physical
// records.
func (r *Record) Handler() PseudoHandler { return r.handler }

// FileMode returns the file-type-plus-permission bits recorded for a
// pseudo record at construction time.
func (r *Record) FileMode() os.FileMode { return r.fileMode }

// Manager owns every Record and the three indexes described in spec §3.
// Concurrency is cooperative (spec §5): handlers run to completion without
// preemption by another handler on the same instance, so the mutex below
// exists purely as an executable invariant check, not for contention.
type Manager struct {
	mu syncutil.InvariantMutex

	sourceRoot Path
	nextID     ID

	byID   map[ID]*Record
	byPath map[Path]*Record
	byFD   map[FD]*Record

	exitOnViolation bool
}

// NewManager verifies sourceRoot is a directory and installs the ROOT
// record (spec §5 "Startup"), with exactly one path: the overlay source
// root at construction time (invariant 4).
func NewManager(sourceRoot string, exitOnViolation bool) (*Manager, error) {
	abs, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, fmt.Errorf("statting source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %q is not a directory", abs)
	}

	m := &Manager{
		sourceRoot:      Path(abs),
		nextID:          RootID + 1,
		byID:            make(map[ID]*Record),
		byPath:          make(map[Path]*Record),
		byFD:            make(map[FD]*Record),
		exitOnViolation: exitOnViolation,
	}
	m.mu = syncutil.NewInvariantMutex(m.checkInvariants)

	root := &Record{
		id:    RootID,
		kind:  KindPhysical,
		paths: map[Path]struct{}{Path(abs): {}},
		fds:   make(map[FD]fdParam),
	}
	m.byID[RootID] = root
	m.byPath[Path(abs)] = root

	return m, nil
}

// SourceRoot returns the overlay's host source directory.
func (m *Manager) SourceRoot() Path { return m.sourceRoot }

// Size reports the number of live vnode records, for metrics.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Root returns the ROOT record.
func (m *Manager) Root() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[RootID]
}

// MakePath joins a parent path and a child name into a normalized absolute
// path, exactly as the original's os.path.join + normalization does.
func (m *Manager) MakePath(base Path, name string) Path {
	return Path(filepath.Join(string(base), name))
}

func (m *Manager) allocateID() ID {
	id := m.nextID
	m.nextID++
	return id
}

// CreatePhysical mints a fresh vnode bound to path, verifying host
// existence via lstat (spec §3 "Create").
func (m *Manager) CreatePhysical(path Path) (*Record, error) {
	if _, err := os.Lstat(string(path)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Record{
		id:    m.allocateID(),
		kind:  KindPhysical,
		paths: make(map[Path]struct{}),
		fds:   make(map[FD]fdParam),
	}
	m.byID[r.id] = r
	m.bindPathLocked(r, path)
	return r, nil
}

// CreatePseudo mints a fresh, persistent pseudo vnode bound to path.
func (m *Manager) CreatePseudo(path Path, handler PseudoHandler, mode os.FileMode) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Record{
		id:       m.allocateID(),
		kind:     KindPseudo,
		paths:    make(map[Path]struct{}),
		fds:      make(map[FD]fdParam),
		handler:  handler,
		fileMode: mode,
	}
	m.byID[r.id] = r
	m.bindPathLocked(r, path)
	return r
}

// bindPathLocked assigns path to r, evicting any prior owner first
// (collision policy, spec §4.2). Caller holds m.mu.
func (m *Manager) bindPathLocked(r *Record, path Path) {
	if prior, ok := m.byPath[path]; ok && prior != r {
		delete(prior.paths, path)
		m.maybeDropLocked(prior)
	}
	r.paths[path] = struct{}{}
	m.byPath[path] = r
}

// Get resolves a vnode number to its record.
func (m *Manager) Get(id ID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	return r, ok
}

// Lookup resolves an absolute path to its record, pruning stale physical
// paths first (spec §4.2 "Path cleanup policy").
func (m *Manager) Lookup(path Path) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byPath[path]
	if !ok {
		return nil, false
	}
	if r.kind == KindPhysical {
		m.pruneLocked(r)
		if _, stillThere := r.paths[path]; !stillThere {
			return nil, false
		}
	}
	return r, true
}

// Contains reports whether path currently resolves to a live record.
func (m *Manager) Contains(path Path) bool {
	_, ok := m.Lookup(path)
	return ok
}

// pruneLocked removes any path of a physical record that no longer exists
// on the host. Caller holds m.mu.
func (m *Manager) pruneLocked(r *Record) {
	for p := range r.paths {
		if _, err := os.Lstat(string(p)); err != nil {
			delete(r.paths, p)
			delete(m.byPath, p)
		}
	}
}

// GetByFD resolves an open host descriptor to its record.
func (m *Manager) GetByFD(fd FD) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byFD[fd]
	return r, ok
}

// AddPath binds an additional path to r — the hard-link / rename-arrival
// mutator of spec §4.2's lifecycle. incRef mirrors the original's
// distinction between a brand new reference (lookup materializing a
// record, a successful link) and a path carried over from elsewhere
// (rename arrival, which does not bump refcount per spec §4.4).
func (m *Manager) AddPath(r *Record, path Path, incRef bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindPathLocked(r, path)
	if incRef {
		r.refcount++
	}
}

// RemovePath unbinds path from r (unlink, rmdir, rename departure). The
// record is dropped once it has no paths, no open descriptors, zero
// refcount, and is not persistent.
func (m *Manager) RemovePath(r *Record, path Path) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := r.paths[path]; !ok {
		return
	}
	delete(r.paths, path)
	delete(m.byPath, path)
	m.maybeDropLocked(r)
}

// OpenFD binds fd to r with the given open-time state.
func (m *Manager) OpenFD(r *Record, fd FD, path Path, flags int, discard bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.fds[fd] = fdParam{path: path, flags: flags, discard: discard}
	m.byFD[fd] = r
}

// CloseFD unbinds fd from r (release), dropping the record if it has
// become otherwise unreferenced.
func (m *Manager) CloseFD(r *Record, fd FD) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(r.fds, fd)
	delete(m.byFD, fd)
	m.maybeDropLocked(r)
}

// Forget applies a batched (vnode, nlookup) pair from the kernel (spec
// §4.4 "Forget"): decrements refcount by n and unbinds the record once it
// reaches zero with no open descriptors.
func (m *Manager) Forget(id ID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return
	}
	r.refcount -= n
	if r.refcount < 0 {
		r.refcount = 0
	}
	m.maybeDropLocked(r)
}

// maybeDropLocked unbinds r from every index once refcount is zero, no fds
// are open, and it is not persistent. Caller holds m.mu.
func (m *Manager) maybeDropLocked(r *Record) {
	if r.Persistent() {
		return
	}
	if r.refcount != 0 || len(r.fds) != 0 {
		return
	}
	for p := range r.paths {
		delete(m.byPath, p)
	}
	delete(m.byID, r.id)
}

func (m *Manager) checkInvariants() {
	for id, r := range m.byID {
		if r.id != id {
			panic(fmt.Sprintf("vnode: id mismatch, index key %v vs record id %v", id, r.id))
		}
		for p := range r.paths {
			if m.byPath[p] != r {
				m.violate(fmt.Sprintf("vnode: by_path[%v] does not point back to record %v", p, id))
			}
		}
		for fd := range r.fds {
			if m.byFD[fd] != r {
				m.violate(fmt.Sprintf("vnode: by_fd[%v] does not point back to record %v", fd, id))
			}
		}
	}
	for p, r := range m.byPath {
		if _, ok := r.paths[p]; !ok {
			m.violate(fmt.Sprintf("vnode: by_path[%v] points at a record that does not own it", p))
		}
	}
	root, ok := m.byID[RootID]
	if !ok || root.kind != KindPhysical || len(root.paths) != 1 {
		m.violate("vnode: ROOT record missing or malformed")
	}
}

func (m *Manager) violate(msg string) {
	if m.exitOnViolation {
		panic(msg)
	}
}
