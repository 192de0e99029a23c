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

package executil

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

// TerminateProcess sends SIGTERM to a process and waits for it to exit.
//
// Use this for processes not started by this program (discovered via pidfile).
// For processes created with Command(), use Cmd.Terminate() instead.
//
// Returns true if the process exited before ctx expired, false otherwise.
// A process that was already gone counts as exited.
func TerminateProcess(ctx context.Context, proc *os.Process) (bool, error) {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if isProcessGone(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to signal process %d: %w", proc.Pid, err)
	}

	return waitForProcessExit(ctx, proc)
}

// KillProcess sends SIGKILL to a process and waits for it to exit.
//
// Returns true if the process exited before ctx expired, false otherwise.
func KillProcess(ctx context.Context, proc *os.Process) (bool, error) {
	if err := proc.Kill(); err != nil {
		if isProcessGone(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to kill process %d: %w", proc.Pid, err)
	}

	return waitForProcessExit(ctx, proc)
}

// StopProcess gracefully stops a process: SIGTERM first, then SIGKILL.
//
// The context controls how long to wait for graceful shutdown. If the process
// doesn't exit in time, SIGKILL is sent with a short fixed timeout.
func StopProcess(ctx context.Context, proc *os.Process) (bool, error) {
	exited, err := TerminateProcess(ctx, proc)
	if err != nil {
		return false, err
	}
	if exited {
		return true, nil
	}

	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 100*time.Millisecond)
	defer cancel()
	return KillProcess(killCtx, proc)
}

// TerminatePID is a convenience wrapper around TerminateProcess for a raw PID.
func TerminatePID(ctx context.Context, pid int) (bool, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		// On unix FindProcess never fails, but handle it anyway.
		return false, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	return TerminateProcess(ctx, proc)
}

// StopPID is a convenience wrapper around StopProcess for a raw PID.
func StopPID(ctx context.Context, pid int) (bool, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	return StopProcess(ctx, proc)
}

// isProcessGone reports whether a signal error means the process no longer exists.
func isProcessGone(err error) bool {
	return err == os.ErrProcessDone || err == syscall.ESRCH
}

// waitForProcessExit polls for a process to exit using signal 0.
//
// This is for processes we didn't start, so we can't use Wait(). Signal 0
// performs the error checking of a signal without sending one.
//
// Polls with exponential backoff from 1ms to 100ms.
func waitForProcessExit(ctx context.Context, proc *os.Process) (bool, error) {
	delay := time.Millisecond
	const maxDelay = 100 * time.Millisecond

	for {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			if isProcessGone(err) {
				return true, nil
			}
			return false, fmt.Errorf("failed to check process %d: %w", proc.Pid, err)
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
