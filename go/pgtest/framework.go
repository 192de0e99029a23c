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

// Package pgtest runs extension tests against a real, ephemeral PostgreSQL
// server: one shared instance per test process, bootstrapped exactly once,
// with every server log line attributable to the client session that
// produced it.
package pgtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mrl5/pg-session-jwt/go/extension"
	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/executil"
)

// bootstrapLockTimeout bounds the wait for the cross-process bootstrap lock.
// A holder that died without releasing it means shared state cannot be
// trusted, so exceeding this is fatal.
const bootstrapLockTimeout = 5 * time.Minute

// framework is the process-wide bootstrap state machine.
//
// Exactly one instance exists per process. The mutex serializes ALL
// bootstrap attempts: one goroutine performs the install/init/start/create
// sequence while every other caller blocks, then observes installed == true
// and proceeds straight to session creation. installed transitions
// false -> true exactly once; a failed step leaves it false so the next
// caller retries from the top.
//
// The step functions are fields so tests can stub and count them.
type framework struct {
	mu              sync.Mutex
	installed       bool
	loglines        *LogLines
	systemSessionID string

	cfg      *pgconfig.Config
	manifest *extension.Manifest
	dbName   string

	installStep   func(ctx context.Context, env *Env) error
	initdbStep    func(ctx context.Context, serverConf []string) error
	startStep     func(ctx context.Context, env *Env) (string, error)
	dropdbStep    func(ctx context.Context) error
	createdbStep  func(ctx context.Context, env *Env) error
	extensionStep func(ctx context.Context, env *Env) error
}

var testFramework = newFramework()

func newFramework() *framework {
	f := &framework{
		loglines:        NewLogLines(),
		systemSessionID: NoSessionID,
	}
	f.installStep = f.installExtension
	f.initdbStep = f.initdb
	f.startStep = f.startServer
	f.dropdbStep = f.dropdb
	f.createdbStep = f.createdb
	f.extensionStep = f.createExtension
	return f
}

// ensureReady guarantees the shared server is bootstrapped, returning the
// shared log map and the system (bootstrap) session id.
//
// The whole check-and-install sequence runs under the mutex; callers may
// block for the full multi-second bootstrap. Any step failing aborts the
// sequence with a propagated error and leaves installed false.
func (f *framework) ensureReady(ctx context.Context, env *Env, serverConf []string) (*LogLines, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.installed {
		return f.loglines, f.systemSessionID, nil
	}

	registerShutdownHandler()

	manifest, err := extension.Locate(env.ManifestPath)
	if err != nil {
		return nil, "", err
	}
	f.manifest = manifest
	f.dbName = manifest.Name + "_tests"

	cfg, err := pgconfig.Resolve(ctx, env.PgConfig)
	if err != nil {
		return nil, "", err
	}
	f.cfg = cfg

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create framework home: %w", err)
	}

	// Serialize against other test processes sharing the same instance. A
	// previous holder that crashed mid-bootstrap left state we cannot trust,
	// so a lock that never frees up aborts the process loudly rather than
	// risk corrupting it.
	unlock := f.acquireBootstrapLock(ctx)
	defer unlock()

	if err := f.installStep(ctx, env); err != nil {
		return nil, "", err
	}
	if err := f.initdbStep(ctx, serverConf); err != nil {
		return nil, "", err
	}

	systemSessionID, err := f.startStep(ctx, env)
	if err != nil {
		return nil, "", err
	}

	if err := f.dropdbStep(ctx); err != nil {
		return nil, "", err
	}
	if err := f.createdbStep(ctx, env); err != nil {
		return nil, "", err
	}
	if err := f.extensionStep(ctx, env); err != nil {
		return nil, "", err
	}

	f.installed = true
	f.systemSessionID = systemSessionID

	return f.loglines, f.systemSessionID, nil
}

func (f *framework) acquireBootstrapLock(ctx context.Context) func() {
	lock := flock.New(filepath.Join(f.cfg.Home, "bootstrap.lock"))

	lockCtx, cancel := context.WithTimeout(ctx, bootstrapLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, time.Second)
	if err != nil || !locked {
		panic(fmt.Sprintf(
			"could not obtain the bootstrap lock %s: %v. A previous test process may have hard-aborted while holding it; shared state cannot be trusted.",
			lock.Path(), err))
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release bootstrap lock", "error", err)
		}
	}
}

// initdb initializes the per-version data directory if absent, then rewrites
// postgresql.auto.conf with the prefix the log demultiplexer depends on, the
// caller-supplied settings and the socket directory.
func (f *framework) initdb(ctx context.Context, serverConf []string) error {
	if !f.cfg.IsDataDirInitialized() {
		args := append(pgconfig.CLocaleFlags(), "-D", f.cfg.DataDir())
		cmd := executil.Command(ctx, f.cfg.InitdbPath(), args...)
		cmd.SetStdout(os.Stdout)
		cmd.SetStderr(os.Stderr)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to initialize data directory using %q: %w", cmd.String(), err)
		}
	}

	return pgconfig.WriteAutoConf(f.cfg.DataDir(), f.cfg.SocketDir(), serverConf)
}

func (f *framework) startServer(ctx context.Context, env *Env) (string, error) {
	return startServer(ctx, f.cfg, env, f.loglines)
}

// dropdb removes the test database if it exists. PG* variables are stripped
// so the user's environment can't redirect the drop somewhere else.
func (f *framework) dropdb(ctx context.Context) error {
	cmd := executil.Command(ctx, f.cfg.DropdbPath(),
		"--if-exists",
		"-h", f.cfg.SocketDir(),
		"-p", fmt.Sprintf("%d", f.cfg.Port()),
		f.dbName,
	)
	cmd.SetEnv(environWithout("PGDATABASE", "PGHOST", "PGPORT", "PGUSER"))

	out, err := cmd.CombinedOutput()
	if err != nil {
		// A database that never existed is fine; anything else is not.
		if strings.Contains(string(out), fmt.Sprintf("database \"%s\" does not exist", f.dbName)) {
			return nil
		}
		return fmt.Errorf("failed to drop test database %q: %w\n%s", f.dbName, err, out)
	}
	return nil
}

func (f *framework) createdb(ctx context.Context, env *Env) error {
	args := []string{
		"-h", f.cfg.SocketDir(),
		"-p", fmt.Sprintf("%d", f.cfg.Port()),
	}
	if env.RunAs != "" {
		args = append(args, "-O", env.RunAs)
	}
	args = append(args, f.dbName)

	cmd := executil.Command(ctx, f.cfg.CreatedbPath(), args...)
	cmd.SetEnv(environWithout("PGDATABASE", "PGHOST", "PGPORT", "PGUSER"))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to create test database %q: %w\n%s", f.dbName, err, out)
	}
	return nil
}

// createExtension installs the extension under test into the fresh database.
func (f *framework) createExtension(ctx context.Context, env *Env) error {
	role, err := bootstrapRole()
	if err != nil {
		return err
	}

	session, err := openSession(ctx, f.cfg, f.dbName, "", role, role, env.VerboseErrors)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Exec(createExtensionSQL(f.manifest)); err != nil {
		return fmt.Errorf("failed to create extension %q: %w", f.manifest.Name, err)
	}
	return nil
}

// createExtensionSQL pins the installed version when the manifest declares
// one; otherwise the server picks the default from the control file.
func createExtensionSQL(m *extension.Manifest) string {
	if m.Version != "" {
		return fmt.Sprintf("CREATE EXTENSION %s VERSION '%s' CASCADE", m.Name, m.Version)
	}
	return fmt.Sprintf("CREATE EXTENSION %s CASCADE", m.Name)
}

// environWithout returns the process environment with the given keys removed.
func environWithout(keys ...string) []string {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !drop[name] {
			env = append(env, kv)
		}
	}
	return env
}
