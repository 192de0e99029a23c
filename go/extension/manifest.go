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

// Package extension describes the extension under test.
//
// The manifest (extension.yaml) lives at the root of the extension project
// and tells the test framework what to install and how to build it.
package extension

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mrl5/pg-session-jwt/go/tools/pathutil"
)

// ManifestFileName is the well-known manifest file name searched for when
// PGTEST_MANIFEST_PATH is not set.
const ManifestFileName = "extension.yaml"

// Manifest is the declarative description of the extension under test.
type Manifest struct {
	// Name of the extension, as used in CREATE EXTENSION.
	Name string `yaml:"name"`

	// Version installed by the test database. Optional; when empty,
	// CREATE EXTENSION picks the control file's default_version.
	Version string `yaml:"version"`

	// Schema the extension installs into. Optional.
	Schema string `yaml:"schema"`

	// Build describes how to compile and install the extension.
	Build BuildConfig `yaml:"build"`

	// DefaultFeatures are build features enabled unless the test run
	// disables defaults.
	DefaultFeatures []string `yaml:"default_features"`

	// Absolute path to the manifest file, populated during load.
	path string `yaml:"-"`
}

// BuildConfig describes the build tool invocation for the extension.
type BuildConfig struct {
	// Tool is the executable used to build and install the extension.
	Tool string `yaml:"tool"`

	// Args are passed to the tool before the framework-provided ones.
	Args []string `yaml:"args"`
}

// Path returns the absolute path of the file the manifest was loaded from.
func (m *Manifest) Path() string {
	return m.path
}

// Dir returns the extension project root (the manifest's directory).
func (m *Manifest) Dir() string {
	return filepath.Dir(m.path)
}

// Load reads and validates a manifest from the given path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse extension manifest %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	manifest.path = absPath

	if err := manifest.validate(); err != nil {
		return nil, fmt.Errorf("invalid extension manifest %s: %w", path, err)
	}

	return &manifest, nil
}

// Locate finds the manifest for the current test run.
//
// If overridePath is non-empty (typically from PGTEST_MANIFEST_PATH), it is
// used directly. Otherwise the search walks up from the working directory
// until it finds extension.yaml, stopping at the filesystem root.
func Locate(overridePath string) (*Manifest, error) {
	if overridePath != "" {
		expanded, err := pathutil.ExpandHome(overridePath)
		if err != nil {
			return nil, err
		}
		return Load(expanded)
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, ManifestFileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("no %s found in %s or any parent directory", ManifestFileName, dir)
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Build.Tool == "" {
		return fmt.Errorf("build.tool is required")
	}
	return nil
}
