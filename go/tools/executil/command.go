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

// Package executil provides subprocess execution with graceful termination
// and explicit environment variable handling.
//
// Go's standard exec package immediately kills subprocesses on context
// cancellation, which prevents a PostgreSQL postmaster from flushing its WAL
// and shutting down its backends. Commands created here are terminated
// gracefully with SIGTERM first, escalating to SIGKILL only after a grace
// period.
//
// Environment variables are handled explicitly via AddEnv() and SetEnv(),
// avoiding the subtle pitfalls of exec.Cmd.Env (where nil means "inherit" but
// non-nil means "replace entirely").
package executil

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is the time to wait after SIGTERM before escalating to SIGKILL.
// This is used when the parent context is cancelled.
const DefaultGracePeriod = 10 * time.Second

// DefaultKillTimeout is the time to wait for a process to exit after SIGKILL.
// SIGKILL should be nearly instant, but zombies or uninterruptible sleep can delay.
const DefaultKillTimeout = 5 * time.Second

// Cmd wraps exec.Cmd with a builder pattern for safe configuration.
// Create with Command() or CommandWithGracePeriod().
type Cmd struct {
	*exec.Cmd
	parentCtx          context.Context
	defaultGracePeriod time.Duration
	extraEnv           []string

	// Termination coordination
	terminateOnce sync.Once
	terminated    chan struct{} // Closed when Terminate() is called
	waitDone      chan struct{} // Closed when Wait() completes
	waitErr       error         // Result of Wait() (valid after waitDone closed)
	waitOnce      sync.Once
}

// Command creates a new Cmd with graceful termination support.
//
// If the parent context is cancelled, the process receives SIGTERM and is given
// DefaultGracePeriod to exit before SIGKILL. For explicit termination with a
// different grace period, call Terminate(ctx) where ctx's timeout controls the wait.
//
// By default, the command inherits the parent process environment.
// Use AddEnv() to add variables, or SetEnv() to replace the entire environment.
func Command(ctx context.Context, name string, args ...string) *Cmd {
	return CommandWithGracePeriod(ctx, DefaultGracePeriod, name, args...)
}

// CommandWithGracePeriod creates a Cmd with a custom default grace period.
//
// The grace period controls how long to wait after SIGTERM before sending SIGKILL
// when the parent context is cancelled. For explicit Terminate() calls, the caller
// controls the grace period via the context timeout instead.
func CommandWithGracePeriod(ctx context.Context, gracePeriod time.Duration, name string, args ...string) *Cmd {
	return &Cmd{
		Cmd:                exec.Command(name, args...),
		parentCtx:          ctx,
		defaultGracePeriod: gracePeriod,
		terminated:         make(chan struct{}),
		waitDone:           make(chan struct{}),
	}
}

// AddEnv adds environment variables to the command. Variables are specified
// as "KEY=value" strings. Safe to call multiple times - variables accumulate.
//
// Variables are added on top of the inherited environment (or the explicit
// base if SetEnv was called). The actual environment is finalized when
// Start/Run/Output/CombinedOutput is called.
func (c *Cmd) AddEnv(keyvals ...string) *Cmd {
	c.extraEnv = append(c.extraEnv, keyvals...)
	return c
}

// SetEnv replaces the entire environment with the provided variables.
// The command will NOT inherit any environment from the parent process.
//
// Call AddEnv() after SetEnv() to add additional variables on top of
// this explicit base.
func (c *Cmd) SetEnv(env []string) *Cmd {
	c.Cmd.Env = env
	return c
}

// SetDir sets the working directory for the command.
func (c *Cmd) SetDir(dir string) *Cmd {
	c.Cmd.Dir = dir
	return c
}

// SetStdout sets the stdout for the command.
func (c *Cmd) SetStdout(w io.Writer) *Cmd {
	c.Cmd.Stdout = w
	return c
}

// SetStderr sets the stderr for the command.
func (c *Cmd) SetStderr(w io.Writer) *Cmd {
	c.Cmd.Stderr = w
	return c
}

// finalizeEnv prepares cmd.Env before execution.
func (c *Cmd) finalizeEnv() {
	if len(c.extraEnv) == 0 {
		return
	}

	if c.Cmd.Env == nil {
		c.Cmd.Env = os.Environ()
	}
	c.Cmd.Env = append(c.Cmd.Env, c.extraEnv...)
}

// Start starts the command without waiting for it to complete.
//
// If the parent context is cancelled, the process will be terminated with
// SIGTERM followed by SIGKILL after the default grace period.
func (c *Cmd) Start() error {
	c.finalizeEnv()
	if err := c.Cmd.Start(); err != nil {
		return err
	}

	// Watch for parent context cancellation
	go func() {
		select {
		case <-c.parentCtx.Done():
			// Parent context cancelled - terminate with default grace period.
			// Fresh context needed; parent context is cancelled.
			termCtx, termCancel := context.WithTimeout(context.WithoutCancel(c.parentCtx), c.defaultGracePeriod)
			_, exited := c.Terminate(termCtx)
			termCancel()
			if !exited {
				killCtx, killCancel := context.WithTimeout(context.WithoutCancel(c.parentCtx), DefaultKillTimeout)
				_, _ = c.Kill(killCtx)
				killCancel()
			}
		case <-c.terminated:
			// Already terminated explicitly, nothing to do
		case <-c.waitDone:
			// Process exited naturally, nothing to do
		}
	}()

	return nil
}

// Wait waits for the command to exit and returns its exit status.
// Wait must be called after Start() to release resources.
// Safe to call multiple times or concurrently - returns cached result.
func (c *Cmd) Wait() error {
	// Ensure we only call the underlying Wait() once.
	// sync.Once.Do blocks all callers until the first call completes.
	c.waitOnce.Do(func() {
		c.waitErr = c.Cmd.Wait()
		// Channel close provides happens-before guarantee for waitErr read
		close(c.waitDone)
	})

	<-c.waitDone
	return c.waitErr
}

// Terminate sends SIGTERM to the process and waits for it to exit gracefully.
//
// Returns (exitErr, true) if the process exited before ctx expired.
// Returns (nil, false) if ctx expired before the process exited.
//
// If false is returned, the process is still running. Call Kill() to force termination.
//
// Safe to call multiple times or concurrently - only the first call sends SIGTERM,
// subsequent calls just wait for the process to exit.
func (c *Cmd) Terminate(ctx context.Context) (error, bool) {
	if c.terminated == nil {
		panic("executil: Terminate called on Cmd not created via Command()")
	}

	c.terminateOnce.Do(func() {
		close(c.terminated)
		if c.Process != nil {
			_ = c.Process.Signal(syscall.SIGTERM)
		}
	})

	// Ensure Wait() is running in background.
	// Result is stored in c.waitErr and signaled via c.waitDone.
	go func() { _ = c.Wait() }()

	select {
	case <-c.waitDone:
		return c.waitErr, true
	case <-ctx.Done():
		return nil, false
	}
}

// Kill sends SIGKILL to the process and waits for it to exit.
//
// The context controls how long to wait for the process to actually exit.
//
// Returns (exitErr, true) if the process exited before ctx expired.
// Returns (ctx.Err(), false) if the wait timed out.
//
// Safe to call after Terminate() times out - reuses the same Wait() call.
func (c *Cmd) Kill(ctx context.Context) (error, bool) {
	if c.Process != nil {
		_ = c.Process.Kill()
	}

	go func() { _ = c.Wait() }()

	select {
	case <-c.waitDone:
		return c.waitErr, true
	case <-ctx.Done():
		return ctx.Err(), false
	}
}

// Stop gracefully stops the process: SIGTERM first, then SIGKILL if needed.
//
// The context controls how long to wait for graceful shutdown (SIGTERM phase).
// If the process doesn't exit before ctx expires, SIGKILL is sent with a short
// fixed timeout (100ms).
//
// Returns (exitErr, true) if the process stopped.
// Returns (nil, false) if SIGKILL timed out (very rare - indicates system issue).
func (c *Cmd) Stop(ctx context.Context) (error, bool) {
	exitErr, exited := c.Terminate(ctx)

	if exited {
		return exitErr, true
	}

	killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), 100*time.Millisecond)
	exitErr, killed := c.Kill(killCtx)
	killCancel()

	return exitErr, killed
}

// Run starts the command and waits for it to complete.
func (c *Cmd) Run() error {
	c.finalizeEnv()
	return c.Cmd.Run()
}

// Output runs the command and returns its stdout.
func (c *Cmd) Output() ([]byte, error) {
	c.finalizeEnv()
	return c.Cmd.Output()
}

// CombinedOutput runs the command and returns its combined stdout and stderr.
func (c *Cmd) CombinedOutput() ([]byte, error) {
	c.finalizeEnv()
	return c.Cmd.CombinedOutput()
}
