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

package pgconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseMajorVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"PostgreSQL 17.4", 17, false},
		{"PostgreSQL 16.0", 16, false},
		{"PostgreSQL 18devel", 18, false},
		{"PostgreSQL 18beta1", 18, false},
		{"PostgreSQL 15.2 (Debian 15.2-1.pgdg110+1)", 15, false},
		{"nonsense", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMajorVersion(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithFakePgConfig(t *testing.T) {
	binDir := t.TempDir()

	// A pg_config stand-in that answers --bindir and --version.
	script := "#!/bin/sh\ncase \"$1\" in\n--bindir) echo " + binDir + " ;;\n--version) echo 'PostgreSQL 17.4' ;;\nesac\n"
	fake := filepath.Join(t.TempDir(), "pg_config")
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	cfg, err := Resolve(context.Background(), fake)
	require.NoError(t, err)

	assert.Equal(t, fake, cfg.PgConfigPath)
	assert.Equal(t, binDir, cfg.BinDir)
	assert.Equal(t, 17, cfg.MajorVersion)
	assert.Equal(t, basePort+17, cfg.Port())
	assert.Equal(t, filepath.Join(cfg.Home, "data-17"), cfg.DataDir())
	assert.Equal(t, cfg.Home, cfg.SocketDir())
	assert.Equal(t, filepath.Join(binDir, "initdb"), cfg.InitdbPath())
	assert.Equal(t, filepath.Join(binDir, "postgres"), cfg.PostmasterPath())
	assert.Equal(t, filepath.Join(binDir, "createdb"), cfg.CreatedbPath())
	assert.Equal(t, filepath.Join(binDir, "dropdb"), cfg.DropdbPath())
}

func TestResolveRejectsMissingBinary(t *testing.T) {
	_, err := Resolve(context.Background(), filepath.Join(t.TempDir(), "pg_config"))
	require.Error(t, err)
}

func TestWriteAutoConf(t *testing.T) {
	dataDir := t.TempDir()

	err := WriteAutoConf(dataDir, "/home/u/.pgtest", []string{"shared_preload_libraries='pg_session_jwt'"})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dataDir, "postgresql.auto.conf"))
	require.NoError(t, err)

	want := "log_line_prefix='[%m] [%p] [%c]: '\n" +
		"shared_preload_libraries='pg_session_jwt'\n" +
		"unix_socket_directories = '/home/u/.pgtest'\n"
	assert.Equal(t, want, string(content))
}

func TestWriteAutoConfOverwrites(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "postgresql.auto.conf")
	require.NoError(t, os.WriteFile(path, []byte("stale = 'junk'\n"), 0o644))

	require.NoError(t, WriteAutoConf(dataDir, "/tmp/sock", nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "stale")
	assert.Contains(t, string(content), "unix_socket_directories = '/tmp/sock'")
}

func TestReadPostmasterPID(t *testing.T) {
	dataDir := t.TempDir()
	pidContent := "12345\n/data/dir\n1735000000\n28817\n/tmp\n"
	require.NoError(t, os.WriteFile(PidFilePath(dataDir), []byte(pidContent), 0o600))

	pid, err := ReadPostmasterPID(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestReadPostmasterPIDEmpty(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(PidFilePath(dataDir), nil, 0o600))

	_, err := ReadPostmasterPID(dataDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty postmaster.pid")
}

func TestReadPostmasterPIDInvalid(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(PidFilePath(dataDir), []byte("not-a-pid\n"), 0o600))

	_, err := ReadPostmasterPID(dataDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestReadPostmasterPIDMissingFile(t *testing.T) {
	_, err := ReadPostmasterPID(t.TempDir())
	require.Error(t, err)
}

func TestIsServerRunning(t *testing.T) {
	dataDir := t.TempDir()

	// No pidfile at all.
	assert.False(t, IsServerRunning(dataDir))

	// Our own PID is definitely running.
	require.NoError(t, os.WriteFile(PidFilePath(dataDir), []byte("1\n"), 0o600))
	if IsProcessRunning(1) {
		assert.True(t, IsServerRunning(dataDir))
	}

	// A PID far beyond pid_max is definitely not.
	require.NoError(t, os.WriteFile(PidFilePath(dataDir), []byte("999999999\n"), 0o600))
	assert.False(t, IsServerRunning(dataDir))
}

func TestIsDataDirInitialized(t *testing.T) {
	home := t.TempDir()
	cfg := &Config{Home: home, MajorVersion: 17}

	assert.False(t, cfg.IsDataDirInitialized())

	require.NoError(t, os.MkdirAll(cfg.DataDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir(), "PG_VERSION"), []byte("17\n"), 0o644))
	assert.True(t, cfg.IsDataDirInitialized())
}

func TestCLocaleFlags(t *testing.T) {
	assert.NotEmpty(t, CLocaleFlags())
}
