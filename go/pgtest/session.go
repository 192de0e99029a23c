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
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
)

// Session is a single pinned server connection plus its session identity.
//
// The identity is the same string the server writes into the %c tag of its
// log lines, so every line this session causes can be found in the shared
// LogLines under Session.ID.
type Session struct {
	// ID is the session identity, hex(backend start epoch) "." hex(pid).
	ID string

	// Role the session connected as.
	Role string

	ctx     context.Context
	db      *sql.DB
	conn    *sql.Conn
	verbose bool
}

// sessionIdentityQuery derives the connection's own session identity. The
// encoding must stay byte-identical to the server's %c log tag.
const sessionIdentityQuery = `SELECT trunc(EXTRACT(EPOCH FROM backend_start))::bigint, pid FROM pg_stat_activity WHERE pid = pg_backend_pid()`

// encodeSessionID renders a backend's identity the way the server's %c
// escape does: lowercase hex start-epoch, a dot, lowercase hex pid.
func encodeSessionID(startEpoch int64, pid int) string {
	return fmt.Sprintf("%x.%x", startEpoch, pid)
}

// openSession connects to the test server over its unix socket as the given
// role, pins a single backend, and derives that backend's session identity.
//
// For any role other than the privileged bootstrap role, the session's
// logging is tuned (log_min_messages, log_min_duration_statement,
// log_statement) so everything it does lands in the log stream under its
// identity. Failure of any setup statement aborts session creation.
// verbose extends the diagnostics of every enriched error the session emits.
func openSession(ctx context.Context, cfg *pgconfig.Config, dbName, options, role, bootstrapRole string, verbose bool) (*Session, error) {
	dsn := fmt.Sprintf("user=%s dbname=%s host=%s port=%d sslmode=disable",
		role, dbName, cfg.SocketDir(), cfg.Port())
	if options != "" {
		dsn += fmt.Sprintf(" options='%s'", options)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database handle: %w", err)
	}

	// Pin one backend. database/sql pools connections, and the identity is
	// only meaningful for the specific backend it was derived on.
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to test server as role %q: %w", role, err)
	}

	session := &Session{Role: role, ctx: ctx, db: db, conn: conn, verbose: verbose}

	sessionID, err := session.deriveIdentity(ctx)
	if err != nil {
		session.Close()
		return nil, err
	}
	session.ID = sessionID

	if role != bootstrapRole {
		for _, stmt := range []string{
			"SET log_min_messages TO 'INFO'",
			"SET log_min_duration_statement TO 1000",
			"SET log_statement TO 'all'",
		} {
			if _, err := session.Exec(stmt); err != nil {
				session.Close()
				return nil, fmt.Errorf("session setup failed to %s: %w", stmt, err)
			}
		}
	}

	return session, nil
}

// deriveIdentity queries the pinned backend for its own start time and pid.
// An empty result is a hard error: without the identity the log correlation
// guarantee cannot be upheld.
func (s *Session) deriveIdentity(ctx context.Context) (string, error) {
	type identity struct {
		startEpoch int64
		pid        int
	}

	id, err := WrapQuery(sessionIdentityQuery, nil, s.verbose, func(query string, _ []any) (identity, error) {
		var id identity
		err := s.conn.QueryRowContext(ctx, query).Scan(&id.startEpoch, &id.pid)
		return id, err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to obtain a session identity from the server: empty result")
		}
		return "", fmt.Errorf("failed to obtain a session identity from the server: %w", err)
	}

	return encodeSessionID(id.startEpoch, id.pid), nil
}

// Exec runs a statement on the pinned backend through the enrichment wrapper.
func (s *Session) Exec(query string, args ...any) (sql.Result, error) {
	return WrapQuery(query, args, s.verbose, func(query string, args []any) (sql.Result, error) {
		return s.conn.ExecContext(s.ctx, query, args...)
	})
}

// Query runs a query on the pinned backend through the enrichment wrapper.
// The caller owns the returned rows.
func (s *Session) Query(query string, args ...any) (*sql.Rows, error) {
	return WrapQuery(query, args, s.verbose, func(query string, args []any) (*sql.Rows, error) {
		return s.conn.QueryContext(s.ctx, query, args...)
	})
}

// QueryRow runs a single-row query on the pinned backend and scans it into
// dest through the enrichment wrapper.
func (s *Session) QueryRow(query string, args []any, dest ...any) error {
	_, err := WrapQuery(query, args, s.verbose, func(query string, args []any) (struct{}, error) {
		return struct{}{}, s.conn.QueryRowContext(s.ctx, query, args...).Scan(dest...)
	})
	return err
}

// Close releases the pinned connection and the underlying handle.
func (s *Session) Close() error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

// bootstrapRole returns the privileged role owning the test instance, which
// is the OS user that ran initdb.
func bootstrapRole() (string, error) {
	user := os.Getenv("USER")
	if user == "" {
		return "", fmt.Errorf("USER environment variable is unset")
	}
	return user, nil
}
