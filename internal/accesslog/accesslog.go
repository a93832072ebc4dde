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

// Package accesslog records the three path sets spec §6 describes as an
// optional shutdown export — every path opened read-only, write-only, or
// read-write — and writes each as a sorted, newline-separated text file.
// Recording these sets and writing the files is outside the core
// dispatcher (spec §1's "out of scope" list); this package is the thin
// collaborator the dispatcher calls into at open() and the CLI calls into
// at unmount.
package accesslog

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Set is one of the three recorded sets: read-only, write-only, read-write.
type Set struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newSet() *Set { return &Set{paths: make(map[string]struct{})} }

// Add records path as accessed under this set's mode.
func (s *Set) Add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[path] = struct{}{}
}

func (s *Set) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Recorder owns the three access-class sets (stat_path_open_r/w/rw in
// spec §4.4's open contract) and exports them on shutdown.
type Recorder struct {
	ReadOnly  *Set
	WriteOnly *Set
	ReadWrite *Set
}

func NewRecorder() *Recorder {
	return &Recorder{ReadOnly: newSet(), WriteOnly: newSet(), ReadWrite: newSet()}
}

// Export writes <basename>.r.txt, <basename>.w.txt, <basename>.rw.txt.
func (r *Recorder) Export(basename string) error {
	files := []struct {
		suffix string
		set    *Set
	}{
		{".r.txt", r.ReadOnly},
		{".w.txt", r.WriteOnly},
		{".rw.txt", r.ReadWrite},
	}
	for _, f := range files {
		content := strings.Join(f.set.sorted(), "\n")
		if content != "" {
			content += "\n"
		}
		if err := os.WriteFile(basename+f.suffix, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
