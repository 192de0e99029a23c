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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/executil"
	"github.com/mrl5/pg-session-jwt/go/tools/retry"
)

// readyMarker is the server's announcement that startup finished. Its first
// occurrence per start carries the system session id.
const readyMarker = "database system is ready to accept connections"

// diagnosticTag marks extension-emitted lines that should always be echoed
// live, even after startup.
const diagnosticTag = "TMSG: "

// maxPidFileRetries bounds the wait for a stale postmaster.pid to disappear.
// After the bound we start anyway and let the server report the real problem.
const maxPidFileRetries = 10

// shutdownGracePeriod bounds how long the shutdown hook waits for the server
// to exit after SIGTERM. Hooks run while the process is tearing down, so a
// server that ignores the signal is abandoned rather than killed.
const shutdownGracePeriod = 10 * time.Second

// startServer launches the server process and blocks until it reports ready,
// returning the session id tagged on the readiness log line.
//
// stdout is inherited; stderr is handed to the monitor goroutine, which feeds
// the shared LogLines for the remaining process lifetime. The monitor is
// fire-and-forget: it has no cancellation and is never joined. Teardown is a
// shutdown hook that SIGTERMs the child.
//
// A server that never reports ready blocks this call forever by design
// (fail-slow); a server that exits before reporting ready returns an error.
func startServer(ctx context.Context, cfg *pgconfig.Config, env *Env, loglines *LogLines) (string, error) {
	waitForPidfileRemoval(ctx, cfg.DataDir())

	cmd := serverCommand(ctx, cfg, env)
	cmd.SetStdout(os.Stdout)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to pipe server stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to spawn server %q: %w", cmd.String(), err)
	}

	pid := cmd.Process.Pid
	addShutdownHook(func() {
		fmt.Printf("%s\n", color.New(color.Bold, color.FgBlue).Sprintf("stopping postgres (pid=%d)", pid))
		termCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		_, _ = executil.TerminatePID(termCtx, pid)
	})

	slog.Info("started postgres", "pid", pid, "command", cmd.String())

	ready := make(chan string, 1)
	go func() {
		monitor(stderr, loglines, ready, os.Stderr)
		// The stream only ends when the server exits. Reap it so a crashed
		// postmaster doesn't linger as a zombie.
		_ = cmd.Wait()
	}()

	sessionID, ok := <-ready
	if !ok {
		return "", fmt.Errorf("server exited before reporting ready; check the captured log output")
	}
	return sessionID, nil
}

// serverCommand builds the postmaster invocation, optionally wrapped in
// valgrind. Logging is forced to stderr so the stream the monitor reads
// cannot be diverted by configuration.
func serverCommand(ctx context.Context, cfg *pgconfig.Config, env *Env) *executil.Cmd {
	serverArgs := []string{
		"-D", cfg.DataDir(),
		"-h", cfg.SocketDir(),
		"-p", strconv.Itoa(cfg.Port()),
		"-c", "log_destination=stderr",
		"-c", "logging_collector=off",
	}

	if env.UseValgrind {
		args := []string{
			"--leak-check=no",
			"--gen-suppressions=all",
			"--time-stamp=yes",
			"--error-markers=VALGRINDERROR-BEGIN,VALGRINDERROR-END",
			"--trace-children=yes",
		}
		// A suppressions file cuts false positives, but is best effort: it
		// only exists when the server was built from source.
		if supp := cfg.ValgrindSuppressionsPath(); fileExists(supp) {
			args = append(args, "--suppressions="+supp)
		}
		args = append(args, cfg.PostmasterPath())
		args = append(args, serverArgs...)
		return executil.Command(ctx, "valgrind", args...)
	}

	return executil.Command(ctx, cfg.PostmasterPath(), serverArgs...)
}

// waitForPidfileRemoval polls until a stale postmaster.pid disappears, on a
// fixed one-second interval up to maxPidFileRetries. On exhaustion it returns
// anyway: the spawn will fail with a descriptive error if another postmaster
// really owns the data directory.
func waitForPidfileRemoval(ctx context.Context, dataDir string) {
	r := retry.New(time.Second, time.Second, retry.WithConstantDelay())
	waitForPidfile(ctx, dataDir, r, maxPidFileRetries)
}

func waitForPidfile(ctx context.Context, dataDir string, r *retry.Retry, maxRetries int) {
	pidFile := pgconfig.PidFilePath(dataDir)

	for pgconfig.PidFileExists(dataDir) {
		if r.Attempt() > maxRetries {
			slog.Warn("pid file still exists after retries, starting anyway", "pidfile", pidFile)
			return
		}
		slog.Info("pid file still exists, waiting", "pidfile", pidFile)
		if err := r.StartAttempt(ctx); err != nil {
			return
		}
	}
}

// monitor drains the server's stderr line by line, demultiplexing into
// loglines by session identity.
//
// The first line containing the ready marker sends its session id on the
// ready channel; later ready-looking lines are recorded but not signaled.
// Lines before readiness, and any line carrying the diagnostic tag, are
// echoed to echo for interactive visibility. Every line is recorded, even
// with an unparsable prefix (under the NoSessionID sentinel). When the
// stream ends the ready channel is closed so a waiting start call can fail
// instead of hanging on a dead server.
func monitor(r io.Reader, loglines *LogLines, ready chan<- string, echo io.Writer) {
	cyan := color.New(color.FgCyan)
	started := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sessionID := SessionIDFromLine(line)

		if !started && strings.Contains(line, readyMarker) {
			ready <- sessionID
			started = true
		}

		if !started || strings.Contains(line, diagnosticTag) {
			fmt.Fprintln(echo, cyan.Sprint(line))
		}

		loglines.Append(sessionID, line)
	}

	close(ready)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
