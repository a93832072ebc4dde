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

const (
	// DefaultControllerName is the basename of the pseudo control directory
	// that is exposed directly under the source tree's root.
	DefaultControllerName = "fuseboxctlv1"

	// DefaultAccessLogBasename is a basename for the three access-class
	// logs (.r.txt, .w.txt, .rw.txt). Nothing falls back to it: the
	// access-log-basename flag defaults to empty, which disables export.
	DefaultAccessLogBasename = "fusebox_access"
)
