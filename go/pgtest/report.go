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
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// failureReport renders everything a human needs to diagnose an unexpected
// test failure without re-running: the full bootstrap-session and
// test-session log buffers plus the error and its server-side locations.
func failureReport(loglines *LogLines, systemSessionID, sessionID, message, pgLocation, backendContext string) string {
	dimmed := color.New(color.Faint, color.FgWhite)
	cyan := color.New(color.FgCyan)
	boldRed := color.New(color.Bold, color.FgRed)
	yellow := color.New(color.FgYellow)

	var sb strings.Builder
	sb.WriteString("\n\nPostgres Messages:\n")
	sb.WriteString(dimmed.Sprint(loglines.Format(systemSessionID)))
	sb.WriteString("\n\nTest Function Messages:\n")
	sb.WriteString(cyan.Sprint(loglines.Format(sessionID)))
	sb.WriteString("\n\nClient Error:\n")
	sb.WriteString(boldRed.Sprint(message))
	fmt.Fprintf(&sb, "\npostgres location: %s", dimmed.Sprint(pgLocation))
	fmt.Fprintf(&sb, "\nbackend context: %s", yellow.Sprint(backendContext))
	sb.WriteString("\n\n")
	return sb.String()
}
