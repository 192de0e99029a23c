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
	"strings"
)

// LogLinePrefix is the log_line_prefix written into every test data
// directory. The [%c] tag carries the backend's session id, which the log
// demultiplexer uses to attribute server output to test sessions. Changing
// this format breaks log attribution.
const LogLinePrefix = `[%m] [%p] [%c]: `

// WriteAutoConf overwrites postgresql.auto.conf in the data directory with
// the framework's required settings plus any caller-provided lines.
//
// postgresql.auto.conf is applied on top of postgresql.conf, so this takes
// precedence over whatever initdb generated without touching it.
func WriteAutoConf(dataDir, socketDir string, extraSettings []string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "log_line_prefix='%s'\n", LogLinePrefix)
	for _, setting := range extraSettings {
		sb.WriteString(setting)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "unix_socket_directories = '%s'\n", socketDir)

	path := filepath.Join(dataDir, "postgresql.auto.conf")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
