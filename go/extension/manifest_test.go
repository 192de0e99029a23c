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

package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
name: pg_session_jwt
version: "0.3.1"
schema: auth
build:
  tool: make
  args: ["-C", "ext"]
default_features:
  - jwt
  - audit
`

// chdir changes the working directory for the duration of the test,
// restoring the original directory on cleanup (t.Chdir needs Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, t.TempDir(), sampleManifest)

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pg_session_jwt", m.Name)
	assert.Equal(t, "0.3.1", m.Version)
	assert.Equal(t, "auth", m.Schema)
	assert.Equal(t, "make", m.Build.Tool)
	assert.Equal(t, []string{"-C", "ext"}, m.Build.Args)
	assert.Equal(t, []string{"jwt", "audit"}, m.DefaultFeatures)
	assert.Equal(t, path, m.Path())
	assert.Equal(t, filepath.Dir(path), m.Dir())
}

func TestLoadMissingName(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "build:\n  tool: make\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadMissingBuildTool(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "name: pg_session_jwt\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.tool is required")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "name: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse extension manifest")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLocateWithOverride(t *testing.T) {
	path := writeManifest(t, t.TempDir(), sampleManifest)

	m, err := Locate(path)
	require.NoError(t, err)
	assert.Equal(t, "pg_session_jwt", m.Name)
}

func TestLocateWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, sampleManifest)

	nested := filepath.Join(root, "go", "pgtest")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	m, err := Locate("")
	require.NoError(t, err)
	assert.Equal(t, "pg_session_jwt", m.Name)
}

func TestLocateNotFound(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Locate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extension.yaml found")
}
