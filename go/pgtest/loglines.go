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
	"regexp"
	"strings"
	"sync"
)

// NoSessionID is the bucket for log lines whose prefix cannot be parsed.
// Such lines are still recorded so no diagnostics are lost.
const NoSessionID = "NONE"

// sessionTagRe matches the log_line_prefix written by pgconfig.WriteAutoConf:
// [timestamp] [pid] [session-tag]: message. The third bracket carries the
// backend's session id (%c), which is the correlation key.
var sessionTagRe = regexp.MustCompile(`\[.*?\] \[.*?\] \[(.*?)\]`)

// SessionIDFromLine extracts the session tag from a server log line,
// returning NoSessionID when the prefix doesn't match.
func SessionIDFromLine(line string) string {
	m := sessionTagRe.FindStringSubmatch(line)
	if m == nil {
		return NoSessionID
	}
	return m[1]
}

// LogLines demultiplexes server log output by session identity.
//
// One instance is shared between the supervisor's monitor goroutine (the only
// writer) and test threads reading buffers on failure. Buckets are append-only
// and insertion ordered; nothing is removed for the process lifetime.
type LogLines struct {
	mu    sync.Mutex
	lines map[string][]string
}

// NewLogLines returns an empty, ready-to-share LogLines.
func NewLogLines() *LogLines {
	return &LogLines{lines: make(map[string][]string)}
}

// Append records a line under the given session identity.
func (l *LogLines) Append(sessionID, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[sessionID] = append(l.lines[sessionID], line)
}

// SessionLines returns a copy of the lines recorded for a session, in
// emission order.
func (l *LogLines) SessionLines(sessionID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := l.lines[sessionID]
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// Format renders a session's buffer as newline-terminated text.
func (l *LogLines) Format(sessionID string) string {
	var sb strings.Builder
	for _, line := range l.SessionLines(sessionID) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Len returns the total number of lines recorded across all sessions.
func (l *LogLines) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, lines := range l.lines {
		n += len(lines)
	}
	return n
}
