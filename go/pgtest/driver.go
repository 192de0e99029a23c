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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

// testRole is the shared low-privilege role test work runs as.
const testRole = "pgtest"

// logFlushDelay gives the server time to get asynchronous log lines written
// to stderr before the buffers are rendered.
const logFlushDelay = time.Second

// Options tunes a single RunTest invocation.
type Options struct {
	// ConnectionOptions is appended to the session's connection string
	// (run-time server parameters, e.g. "-c search_path=auth").
	ConnectionOptions string

	// ExpectedError, when non-empty, declares that the work is expected to
	// fail with a server error whose message equals it exactly.
	ExpectedError string

	// ServerConf lines are appended to the server's generated configuration.
	// Only the first bootstrap in the process applies them.
	ServerConf []string
}

// RunTest is the public entry point: it ensures the shared server is
// bootstrapped, opens a fresh low-privilege session, executes work, and
// classifies the outcome. On an unexpected failure it fails the test with a
// report carrying both the bootstrap-session and this session's full log
// buffers.
func RunTest(t testing.TB, opts Options, work func(*Session) error) {
	t.Helper()

	env, err := LoadEnv()
	if err != nil {
		t.Fatal(err)
	}
	if env.SkipRequested() {
		t.Log("skipping test because PGTEST_SKIP is set in the environment")
		return
	}

	ctx := context.Background()

	loglines, systemSessionID, err := testFramework.ensureReady(ctx, env, opts.ServerConf)
	if err != nil {
		t.Fatalf("failed to bootstrap the test framework: %v", err)
	}

	if err := ensureTestRole(ctx, testFramework, env); err != nil {
		t.Fatalf("failed to ensure the %s role: %v", testRole, err)
	}

	role := testRole
	if env.RunAs != "" {
		role = env.RunAs
	}
	session, err := openSession(ctx, testFramework.cfg, testFramework.dbName, opts.ConnectionOptions, role, "", env.VerboseErrors)
	if err != nil {
		t.Fatalf("failed to open a test session: %v", err)
	}
	defer session.Close()

	verdict := classify(work(session), opts.ExpectedError)
	switch verdict.kind {
	case verdictPass:
		return
	case verdictExpectedErrorMissing:
		t.Fatalf("expected error did not occur: %s", opts.ExpectedError)
	case verdictUnexpectedFailure:
		time.Sleep(logFlushDelay)
		t.Fatal(failureReport(loglines, systemSessionID, session.ID,
			verdict.message, verdict.pgLocation, verdict.backendContext))
	}
}

// ensureTestRole creates or relaxes the shared low-privilege role through
// the bootstrap session, idempotently, and grants it usage on the extension's
// schema from the manifest.
func ensureTestRole(ctx context.Context, f *framework, env *Env) error {
	role, err := bootstrapRole()
	if err != nil {
		return err
	}

	session, err := openSession(ctx, f.cfg, f.dbName, "", role, role, env.VerboseErrors)
	if err != nil {
		return err
	}
	defer session.Close()

	var exists bool
	err = session.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", []any{testRole}, &exists)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("CREATE ROLE %s WITH NOSUPERUSER LOGIN", testRole)
	if exists {
		stmt = fmt.Sprintf("ALTER ROLE %s WITH NOSUPERUSER LOGIN", testRole)
	}
	if _, err := session.Exec(stmt); err != nil {
		return err
	}

	if grant := grantUsageSQL(f.manifest.Schema, testRole); grant != "" {
		if _, err := session.Exec(grant); err != nil {
			return err
		}
	}
	return nil
}

// grantUsageSQL grants a role usage on the extension's schema. An extension
// without a dedicated schema installs into public, which needs no grant.
func grantUsageSQL(schema, role string) string {
	if schema == "" {
		return ""
	}
	return fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", schema, role)
}

type verdictKind int

const (
	verdictPass verdictKind = iota
	verdictExpectedErrorMissing
	verdictUnexpectedFailure
)

type verdict struct {
	kind           verdictKind
	message        string
	pgLocation     string
	backendContext string
}

// classify maps the work's outcome and the declared expectation to a verdict:
// success with no expectation passes; success despite an expectation is a
// terminal failure; a structured failure whose server message equals the
// expectation exactly passes; anything else is an unexpected failure carrying
// the error's server-side location metadata.
func classify(workErr error, expectedError string) verdict {
	if workErr == nil {
		if expectedError != "" {
			return verdict{kind: verdictExpectedErrorMissing}
		}
		return verdict{kind: verdictPass}
	}

	var pqErr *pq.Error
	if errors.As(workErr, &pqErr) {
		if expectedError != "" && pqErr.Message == expectedError {
			return verdict{kind: verdictPass}
		}
		return verdict{
			kind:           verdictUnexpectedFailure,
			message:        workErr.Error(),
			pgLocation:     pgLocation(pqErr),
			backendContext: orUnknown(pqErr.Where),
		}
	}

	return verdict{
		kind:           verdictUnexpectedFailure,
		message:        workErr.Error(),
		pgLocation:     "<unknown>",
		backendContext: "<unknown>",
	}
}

func pgLocation(pqErr *pq.Error) string {
	if pqErr.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%s", pqErr.File, pqErr.Line)
}

func orUnknown(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}
