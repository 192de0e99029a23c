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

// Package pgconfig locates a PostgreSQL installation through its pg_config
// binary and derives the paths, ports and tool locations the test framework
// needs from it.
package pgconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/mrl5/pg-session-jwt/go/tools/executil"
	"github.com/mrl5/pg-session-jwt/go/tools/pathutil"
)

// basePort is the base for per-version test ports. Each PostgreSQL major
// version gets its own port so tests against different versions can run
// side by side.
const basePort = 28800

// homeDirName is the framework's state directory under the user's home.
const homeDirName = ".pgtest"

// Config describes a resolved PostgreSQL installation.
type Config struct {
	// PgConfigPath is the pg_config binary the installation was resolved from.
	PgConfigPath string

	// BinDir is pg_config --bindir.
	BinDir string

	// Version is the full version string, e.g. "PostgreSQL 17.4".
	Version string

	// MajorVersion is the major version number, e.g. 17.
	MajorVersion int

	// Home is the framework state directory (~/.pgtest).
	Home string
}

// Resolve locates a PostgreSQL installation.
//
// If pgConfigPath is non-empty (typically from the PG_CONFIG environment
// variable), it is used directly; otherwise pg_config is looked up on PATH.
func Resolve(ctx context.Context, pgConfigPath string) (*Config, error) {
	var err error
	if pgConfigPath != "" {
		if pgConfigPath, err = pathutil.ExpandHome(pgConfigPath); err != nil {
			return nil, err
		}
	} else {
		if pgConfigPath, err = pathutil.FindOnPath("pg_config"); err != nil {
			return nil, fmt.Errorf("pg_config not found on PATH (set PG_CONFIG to use a specific installation): %w", err)
		}
	}

	binDir, err := interrogate(ctx, pgConfigPath, "--bindir")
	if err != nil {
		return nil, err
	}

	version, err := interrogate(ctx, pgConfigPath, "--version")
	if err != nil {
		return nil, err
	}

	major, err := parseMajorVersion(version)
	if err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}

	return &Config{
		PgConfigPath: pgConfigPath,
		BinDir:       binDir,
		Version:      version,
		MajorVersion: major,
		Home:         filepath.Join(homeDir, homeDirName),
	}, nil
}

// interrogate runs pg_config with a single flag and returns the trimmed output.
func interrogate(ctx context.Context, pgConfigPath, flag string) (string, error) {
	out, err := executil.Command(ctx, pgConfigPath, flag).Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s %s: %w", pgConfigPath, flag, err)
	}
	return strings.TrimSpace(string(out)), nil
}

var versionRe = regexp.MustCompile(`(\d+)(?:\.\d+|devel|beta\d*|rc\d*)?`)

// parseMajorVersion extracts the major version from a pg_config --version
// string such as "PostgreSQL 17.4" or "PostgreSQL 18devel".
func parseMajorVersion(version string) (int, error) {
	m := versionRe.FindStringSubmatch(version)
	if m == nil {
		return 0, fmt.Errorf("cannot parse PostgreSQL version from %q", version)
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("cannot parse PostgreSQL version from %q: %w", version, err)
	}
	return major, nil
}

// Port returns the test server port for this installation's major version.
func (c *Config) Port() int {
	return basePort + c.MajorVersion
}

// DataDir returns the per-version data directory under the framework home.
func (c *Config) DataDir() string {
	return filepath.Join(c.Home, fmt.Sprintf("data-%d", c.MajorVersion))
}

// SocketDir returns the unix socket directory the test server listens on.
// Connections use the socket rather than TCP, so the server never binds a
// network address.
func (c *Config) SocketDir() string {
	return c.Home
}

// InitdbPath returns the initdb binary for this installation.
func (c *Config) InitdbPath() string { return filepath.Join(c.BinDir, "initdb") }

// PostmasterPath returns the postgres server binary for this installation.
func (c *Config) PostmasterPath() string { return filepath.Join(c.BinDir, "postgres") }

// CreatedbPath returns the createdb binary for this installation.
func (c *Config) CreatedbPath() string { return filepath.Join(c.BinDir, "createdb") }

// DropdbPath returns the dropdb binary for this installation.
func (c *Config) DropdbPath() string { return filepath.Join(c.BinDir, "dropdb") }

// PsqlPath returns the psql binary for this installation.
func (c *Config) PsqlPath() string { return filepath.Join(c.BinDir, "psql") }

// PgCtlPath returns the pg_ctl binary for this installation.
func (c *Config) PgCtlPath() string { return filepath.Join(c.BinDir, "pg_ctl") }

// ValgrindSuppressionsPath returns the conventional location of the
// PostgreSQL source tree's valgrind suppressions file for this version.
// The file only exists when the server was built from source under the
// framework home; callers should check before using it.
func (c *Config) ValgrindSuppressionsPath() string {
	return filepath.Join(c.Home, strconv.Itoa(c.MajorVersion), "src", "tools", "valgrind.supp")
}

// IsDataDirInitialized checks whether the data directory has been initialized.
func (c *Config) IsDataDirInitialized() bool {
	_, err := os.Stat(filepath.Join(c.DataDir(), "PG_VERSION"))
	return err == nil
}

// CLocaleFlags returns the initdb flags that select the C locale, which keeps
// server messages in English so log parsing is stable across machines.
func CLocaleFlags() []string {
	if runtime.GOOS == "darwin" {
		return []string{"--locale=C", "--lc-ctype=UTF-8"}
	}
	return []string{"--locale=C.UTF-8"}
}
