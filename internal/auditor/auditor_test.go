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

package auditor

import (
	"testing"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/stretchr/testify/assert"
)

// TestHierarchicalOverride is scenario S1 of the spec: whitelist model,
// broad allow then a narrower deny then a still-narrower allow compose by
// last-match-wins.
func TestHierarchicalOverride(t *testing.T) {
	a := New(cfg.Whitelist, true)
	a.AllowRead("/foo")
	a.DenyRead("/foo/bar")
	a.AllowRead("/foo/bar/baz")

	assert.True(t, a.AskReadable("/foo/x"))
	assert.False(t, a.AskReadable("/foo/bar/x"))
	assert.True(t, a.AskReadable("/foo/bar/baz"))
	assert.False(t, a.AskReadable("/other"))
}

func TestClearAllRestoresSecurityModelDefault(t *testing.T) {
	whitelist := New(cfg.Whitelist, true)
	whitelist.AllowRead("/foo")
	whitelist.ClearAll()
	assert.False(t, whitelist.AskReadable("/foo"))

	blacklist := New(cfg.Blacklist, true)
	blacklist.DenyRead("/foo")
	blacklist.ClearAll()
	assert.True(t, blacklist.AskReadable("/foo"))
}

func TestDisabledAuditorPermitsEverythingAndNeverDiscards(t *testing.T) {
	a := New(cfg.Whitelist, false)
	a.DenyRead("/foo")
	a.DiscardWrite("/foo")

	assert.True(t, a.AskReadable("/foo"))
	assert.True(t, a.AskWritable("/foo"))
	assert.False(t, a.AskDiscard("/foo"))
}

func TestDiscardCountsAsPermitForReadWriteQueries(t *testing.T) {
	a := New(cfg.Whitelist, true)
	a.DiscardWrite("/src/file1")

	assert.True(t, a.AskWritable("/src/file1"))
	assert.True(t, a.AskDiscard("/src/file1"))
}

func TestApplyLineRecognizesVerbsAndSkipsUnknown(t *testing.T) {
	a := New(cfg.Whitelist, true)

	assert.True(t, a.ApplyLine("allowread /foo"))
	assert.True(t, a.ApplyLine("denywrite /bar"))
	assert.True(t, a.ApplyLine("addpredict /baz"))
	assert.True(t, a.ApplyLine("# a comment"))
	assert.True(t, a.ApplyLine(""))
	assert.False(t, a.ApplyLine("bogus /nope"))

	assert.True(t, a.AskReadable("/foo"))
	assert.False(t, a.AskWritable("/bar"))
	assert.True(t, a.AskReadable("/baz"))
	assert.True(t, a.AskDiscard("/baz"))
}

func TestRenderRoundTripsThroughApplyLine(t *testing.T) {
	a := New(cfg.Whitelist, true)
	a.AllowRead("/foo")
	a.DenyWrite("/bar")

	rendered := a.Render()

	b := New(cfg.Whitelist, true)
	for _, line := range splitLines(rendered) {
		b.ApplyLine(line)
	}

	assert.True(t, b.AskReadable("/foo"))
	assert.False(t, b.AskWritable("/bar"))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
