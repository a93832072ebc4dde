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

// Package auditor implements the ordered ACL evaluated by the dispatcher
// and reconfigured at runtime through the pseudo acl file: two lists of
// permissions (read, write), scanned in reverse for the first prefix match,
// with a security-model fallback when nothing matches.
package auditor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fuseboxfs/fusebox/cfg"
)

// Order is the disposition of a matching rule.
type Order int

const (
	OrderAllow Order = iota
	OrderDeny
	OrderDiscard
)

// Permission is one entry of an ordered list: the order to apply when
// prefix is a byte-prefix of the queried path.
type Permission struct {
	Order  Order
	Prefix string
}

// Auditor holds the read and write permission lists plus the master switch
// and security-model fallback described in spec §4.1. The zero value is not
// usable; construct with New.
type Auditor struct {
	mu sync.Mutex

	model   cfg.SecurityModel
	enabled bool

	readRules  []Permission
	writeRules []Permission
}

// New returns an Auditor with empty lists, the given security model, and
// the master switch in the given initial state (spec §4.1,
// cfg.AuditorEnabled - gcsfuse/fusefs.py starts the switch off).
func New(model cfg.SecurityModel, enabled bool) *Auditor {
	return &Auditor{model: model, enabled: enabled}
}

// SetEnabled flips the master switch.
func (a *Auditor) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Enabled reports the master switch state.
func (a *Auditor) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// AllowRead appends an allow rule to the read list.
func (a *Auditor) AllowRead(path string) { a.append(&a.readRules, OrderAllow, path) }

// AllowWrite appends an allow rule to the write list.
func (a *Auditor) AllowWrite(path string) { a.append(&a.writeRules, OrderAllow, path) }

// DenyRead appends a deny rule to the read list.
func (a *Auditor) DenyRead(path string) { a.append(&a.readRules, OrderDeny, path) }

// DenyWrite appends a deny rule to the write list.
func (a *Auditor) DenyWrite(path string) { a.append(&a.writeRules, OrderDeny, path) }

// DiscardWrite appends a discard rule to the write list. Discard is only
// meaningful on writes (spec §4.1).
func (a *Auditor) DiscardWrite(path string) { a.append(&a.writeRules, OrderDiscard, path) }

func (a *Auditor) append(list *[]Permission, order Order, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*list = append(*list, Permission{Order: order, Prefix: path})
}

// ClearAll empties both lists.
func (a *Auditor) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readRules = nil
	a.writeRules = nil
}

func (a *Auditor) defaultPermit() bool {
	return a.model == cfg.Blacklist
}

// scan returns the order of the last rule in list whose prefix is a
// byte-prefix of p, and whether any rule matched.
func scan(list []Permission, p string) (Order, bool) {
	for i := len(list) - 1; i >= 0; i-- {
		if strings.HasPrefix(p, list[i].Prefix) {
			return list[i].Order, true
		}
	}
	return OrderAllow, false
}

// AskReadable reports whether p may be read.
func (a *Auditor) AskReadable(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return true
	}

	order, matched := scan(a.readRules, p)
	if !matched {
		return a.defaultPermit()
	}
	return order == OrderAllow || order == OrderDiscard
}

// AskWritable reports whether p may be written.
func (a *Auditor) AskWritable(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return true
	}

	order, matched := scan(a.writeRules, p)
	if !matched {
		return a.defaultPermit()
	}
	return order == OrderAllow || order == OrderDiscard
}

// AskDiscard reports whether writes to p should be faked rather than
// applied to the host.
func (a *Auditor) AskDiscard(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return false
	}

	order, matched := scan(a.writeRules, p)
	return matched && order == OrderDiscard
}

// Rules returns a snapshot of the read and write lists, in list order, for
// rendering by the pseudo acl file.
func (a *Auditor) Rules() (read []Permission, write []Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	read = append([]Permission(nil), a.readRules...)
	write = append([]Permission(nil), a.writeRules...)
	return
}

// Seed applies a list of startup rules (cfg.SeedRulesFile, SPEC_FULL.md
// §6.1) in order, before the first FUSE request is served.
func (a *Auditor) Seed(rules []cfg.SeedRule) error {
	for _, r := range rules {
		verb := strings.ToLower(r.Order)
		if verb != "clearall" {
			verb += strings.ToLower(r.Class)
		}
		if err := a.applyVerb(verb, r.Path); err != nil {
			return err
		}
	}
	return nil
}

// applyVerb dispatches one canonical verb+path pair, shared by Seed and by
// the pseudo acl file's write-time line parser.
func (a *Auditor) applyVerb(verb, path string) error {
	switch verb {
	case "clearall":
		a.ClearAll()
	case "allowread", "addread":
		a.AllowRead(path)
	case "allowwrite":
		a.AllowWrite(path)
	case "denyread":
		a.DenyRead(path)
	case "denywrite":
		a.DenyWrite(path)
	case "discardwrite":
		a.DiscardWrite(path)
	case "addwrite":
		a.AllowRead(path)
		a.AllowWrite(path)
	case "adddeny":
		a.DenyRead(path)
		a.DenyWrite(path)
	case "addpredict":
		a.AllowRead(path)
		a.DiscardWrite(path)
	default:
		return errUnknownVerb
	}
	return nil
}

var errUnknownVerb = errors.New("auditor: unknown verb")

// lineRE matches one non-blank, non-comment command line of the acl wire
// format (spec §6): "<verb> <path>".
var lineRE = regexp.MustCompile(`^(\S+)\s+(.*)$`)

// ApplyLine parses and applies one line of the acl wire format. Blank lines
// and comment lines (leading '#') are ignored. An unrecognized verb is
// reported to the caller so it can log-and-skip per spec §4.3; it is never
// treated as a fatal condition.
func (a *Auditor) ApplyLine(line string) (recognized bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return true
	}
	// Render emits "clearall" with no path; accept it in that form too.
	if strings.EqualFold(trimmed, "clearall") {
		a.ClearAll()
		return true
	}

	m := lineRE.FindStringSubmatch(trimmed)
	if m == nil {
		return false
	}

	verb := strings.ToLower(m[1])
	path := strings.TrimSpace(m[2])
	if verb == "clearall" {
		a.ClearAll()
		return true
	}
	return a.applyVerb(verb, path) == nil
}

// canonicalVerb renders an order-on-a-given-list back to its wire verb.
func canonicalVerb(order Order, write bool) string {
	switch {
	case write && order == OrderDiscard:
		return "discardwrite"
	case order == OrderAllow:
		if write {
			return "allowwrite"
		}
		return "allowread"
	case order == OrderDeny:
		if write {
			return "denywrite"
		}
		return "denyread"
	default:
		return "allowread"
	}
}

// Render produces the full textual state of the acl pseudo-file: a leading
// comment, "clearall", then every read rule followed by every write rule,
// each in list order (spec §4.3/§6).
func (a *Auditor) Render() string {
	read, write := a.Rules()

	var b strings.Builder
	b.WriteString("# fusebox acl - generated, edits take effect immediately\n")
	b.WriteString("clearall\n")
	for _, p := range read {
		fmt.Fprintf(&b, "%s %s\n", canonicalVerb(p.Order, false), p.Prefix)
	}
	for _, p := range write {
		fmt.Fprintf(&b, "%s %s\n", canonicalVerb(p.Order, true), p.Prefix)
	}
	return b.String()
}
