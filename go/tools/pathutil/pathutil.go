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

// Package pathutil provides helpers for resolving external binaries and
// well-known directories used by the test harness.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindOnPath looks up a bare program name in the PATH environment variable
// and returns the first absolute path that exists. The program name must not
// contain a path separator.
func FindOnPath(program string) (string, error) {
	if strings.ContainsRune(program, os.PathSeparator) {
		return "", fmt.Errorf("program name %q must not contain a path separator", program)
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, program)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%q not found on PATH", program)
}

// PrependPath returns the current PATH value with the given directory placed
// first, so lookups in an environment built from it prefer that directory.
// The directory is made absolute; if that fails PATH is returned unchanged.
func PrependPath(dir string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return os.Getenv("PATH")
	}
	return absDir + string(os.PathListSeparator) + os.Getenv("PATH")
}

// ExpandHome replaces a leading "~" in path with the current user's home
// directory. Paths without the prefix are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
