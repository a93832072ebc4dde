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

package cfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedRule is one line of an optional ACL seed file, applied to the
// auditor once at startup, before the acl pseudo-file exists to serve the
// same purpose at runtime.
type SeedRule struct {
	// Order is one of "allow", "deny", "discard".
	Order string `yaml:"order"`
	// Class is one of "read", "write".
	Class string `yaml:"class"`
	Path  string `yaml:"path"`
}

// LoadSeedRules reads and parses a YAML seed-rules file. An empty path is
// not an error; it returns a nil slice.
func LoadSeedRules(path string) ([]SeedRule, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed rules file %q: %w", path, err)
	}

	var rules []SeedRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing seed rules file %q: %w", path, err)
	}

	return rules, nil
}
