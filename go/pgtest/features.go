// Copyright 2025 The pg-session-jwt Authors.
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

package pgtest

import (
	"sort"
	"strings"

	"github.com/mrl5/pg-session-jwt/go/extension"
	"github.com/mrl5/pg-session-jwt/go/tools/proctree"
)

// testFeature is always enabled so the extension builds its test surface.
const testFeature = "pg_test"

// collectFeatures merges the build feature set for the install step:
// manifest defaults (unless disabled), PGTEST_FEATURES, build tags recovered
// from the enclosing "go test" invocation, and the implicit test feature.
// goTestArgs is the enclosing invocation's argument list (may be nil).
func collectFeatures(env *Env, manifest *extension.Manifest, goTestArgs []string) []string {
	set := make(map[string]struct{})

	if !env.NoDefaultFeatures {
		for _, f := range manifest.DefaultFeatures {
			set[f] = struct{}{}
		}
	}
	for _, f := range strings.Fields(env.Features) {
		set[f] = struct{}{}
	}
	for _, f := range proctree.BuildTags(goTestArgs) {
		set[f] = struct{}{}
	}
	set[testFeature] = struct{}{}

	features := make([]string, 0, len(set))
	for f := range set {
		features = append(features, f)
	}
	sort.Strings(features)
	return features
}
