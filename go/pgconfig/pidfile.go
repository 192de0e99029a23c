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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PidFilePath returns the postmaster's lock file path for a data directory.
func PidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "postmaster.pid")
}

// PidFileExists reports whether the postmaster lock file exists. The file
// may be stale; use IsServerRunning to also verify the process.
func PidFileExists(dataDir string) bool {
	_, err := os.Stat(PidFilePath(dataDir))
	return err == nil
}

// ReadPostmasterPID reads the postmaster PID from the lock file.
// The PID is the first line; later lines hold the data dir, start time,
// port and socket directory.
func ReadPostmasterPID(dataDir string) (int, error) {
	content, err := os.ReadFile(PidFilePath(dataDir))
	if err != nil {
		return 0, err
	}

	lines := strings.Split(string(content), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return 0, fmt.Errorf("empty postmaster.pid file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in postmaster.pid: %s", lines[0])
	}

	return pid, nil
}

// IsProcessRunning reports whether a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// IsServerRunning reports whether a live postmaster owns the data directory.
func IsServerRunning(dataDir string) bool {
	pid, err := ReadPostmasterPID(dataDir)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}
