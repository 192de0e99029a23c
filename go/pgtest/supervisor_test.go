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
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/retry"
)

const startupStream = `[2026-08-27 10:00:00.000 UTC] [4242] [68af01c2.1092]: LOG:  starting PostgreSQL 17.4
[2026-08-27 10:00:00.100 UTC] [4242] [68af01c2.1092]: LOG:  listening on Unix socket "/home/u/.pgtest/.s.PGSQL.28817"
[2026-08-27 10:00:00.200 UTC] [4242] [68af01c2.1092]: LOG:  database system is ready to accept connections
[2026-08-27 10:00:01.000 UTC] [4250] [68af01c3.109a]: LOG:  statement: SELECT 1
[2026-08-27 10:00:02.000 UTC] [4250] [68af01c3.109a]: LOG:  TMSG: jwt validated
unprefixed diagnostic line
`

func runMonitor(t *testing.T, stream string) (*LogLines, chan string, *bytes.Buffer) {
	t.Helper()

	loglines := NewLogLines()
	ready := make(chan string, 1)
	var echo bytes.Buffer
	monitor(strings.NewReader(stream), loglines, ready, &echo)
	return loglines, ready, &echo
}

func TestMonitorSignalsReadinessOnce(t *testing.T) {
	_, ready, _ := runMonitor(t, startupStream)

	sid, ok := <-ready
	require.True(t, ok)
	assert.Equal(t, "68af01c2.1092", sid)

	// Channel is closed after the stream ends, with no second signal.
	_, ok = <-ready
	assert.False(t, ok)
}

func TestMonitorSecondReadyMarkerIsLogOnly(t *testing.T) {
	stream := startupStream +
		"[2026-08-27 10:05:00.000 UTC] [4242] [68af01c2.1092]: LOG:  database system is ready to accept connections\n"

	loglines, ready, _ := runMonitor(t, stream)

	sid, ok := <-ready
	require.True(t, ok)
	assert.Equal(t, "68af01c2.1092", sid)

	// The second marker was recorded but never signaled.
	_, ok = <-ready
	assert.False(t, ok)
	assert.Len(t, loglines.SessionLines("68af01c2.1092"), 4)
}

func TestMonitorRecordsEveryLine(t *testing.T) {
	loglines, _, _ := runMonitor(t, startupStream)

	assert.Equal(t, 6, loglines.Len())
	assert.Len(t, loglines.SessionLines("68af01c2.1092"), 3)
	assert.Len(t, loglines.SessionLines("68af01c3.109a"), 2)
	assert.Equal(t, []string{"unprefixed diagnostic line"}, loglines.SessionLines(NoSessionID))
}

func TestMonitorEchoBehavior(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	_, _, echo := runMonitor(t, startupStream)
	out := echo.String()

	// Pre-readiness lines are echoed live.
	assert.Contains(t, out, "starting PostgreSQL")
	assert.Contains(t, out, "listening on Unix socket")
	// Readiness flips the echo off before the ready line itself is printed,
	// so from that line on only tagged diagnostics appear.
	assert.NotContains(t, out, "ready to accept connections")
	assert.Contains(t, out, "TMSG: jwt validated")
	assert.NotContains(t, out, "statement: SELECT 1")
	assert.NotContains(t, out, "unprefixed diagnostic line")
}

func TestMonitorClosesReadyWhenServerNeverStarts(t *testing.T) {
	stream := "[2026-08-27 10:00:00.000 UTC] [4242] [68af01c2.1092]: FATAL:  could not create lock file\n"

	_, ready, _ := runMonitor(t, stream)

	_, ok := <-ready
	assert.False(t, ok)
}

func TestWaitForPidfileProceedsAfterRetryBound(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(pgconfig.PidFilePath(dataDir), []byte("12345\n"), 0o600))

	r := retry.New(time.Millisecond, time.Millisecond, retry.WithConstantDelay())

	done := make(chan struct{})
	go func() {
		waitForPidfile(context.Background(), dataDir, r, 5)
		close(done)
	}()

	select {
	case <-done:
		// Proceeded despite the pid file never disappearing.
	case <-time.After(5 * time.Second):
		t.Fatal("waitForPidfile hung past its retry bound")
	}
}

func TestWaitForPidfileReturnsImmediatelyWithoutPidfile(t *testing.T) {
	start := time.Now()
	waitForPidfileRemoval(context.Background(), t.TempDir())
	assert.Less(t, time.Since(start), time.Second)
}

func TestServerCommandArgs(t *testing.T) {
	cfg := &pgconfig.Config{BinDir: "/opt/pg/bin", MajorVersion: 17, Home: "/home/u/.pgtest"}

	cmd := serverCommand(context.Background(), cfg, &Env{})
	args := cmd.Args

	assert.Equal(t, "/opt/pg/bin/postgres", args[0])
	assert.Contains(t, args, "-D")
	assert.Contains(t, args, cfg.DataDir())
	assert.Contains(t, args, "28817")
	assert.Contains(t, args, "log_destination=stderr")
	assert.Contains(t, args, "logging_collector=off")
}

func TestServerCommandValgrindWrap(t *testing.T) {
	cfg := &pgconfig.Config{BinDir: "/opt/pg/bin", MajorVersion: 17, Home: "/home/u/.pgtest"}

	cmd := serverCommand(context.Background(), cfg, &Env{UseValgrind: true})
	args := cmd.Args

	assert.Equal(t, "valgrind", args[0])
	assert.Contains(t, args, "--trace-children=yes")
	assert.Contains(t, args, "/opt/pg/bin/postgres")
}
