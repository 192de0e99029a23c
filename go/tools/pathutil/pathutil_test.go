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

package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOnPath(t *testing.T) {
	dir := t.TempDir()
	program := filepath.Join(dir, "fake-tool")
	require.NoError(t, os.WriteFile(program, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+"/nonexistent")

	found, err := FindOnPath("fake-tool")
	require.NoError(t, err)
	assert.Equal(t, program, found)

	_, err = FindOnPath("definitely-not-a-real-tool")
	assert.Error(t, err)

	_, err = FindOnPath("some/dir/tool")
	assert.Error(t, err)
}

func TestFindOnPathSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "fake-tool"), 0o755))

	t.Setenv("PATH", dir)

	_, err := FindOnPath("fake-tool")
	assert.Error(t, err)
}

func TestPrependPath(t *testing.T) {
	t.Setenv("PATH", "/bin")

	dir := t.TempDir()
	got := PrependPath(dir)

	absDir, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, absDir+string(os.PathListSeparator)+"/bin", got)
	// The process's own PATH is left alone.
	assert.Equal(t, "/bin", os.Getenv("PATH"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandHome("~/.pgtest")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".pgtest"), expanded)

	unchanged, err := ExpandHome("/var/lib/pgtest")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pgtest", unchanged)
}
