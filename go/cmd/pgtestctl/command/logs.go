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

package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// AddLogsCommand adds the logs subcommand to the root command.
func AddLogsCommand(root *cobra.Command, ctl *PgTestCtl) {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the test instance's server log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, ctl, tail)
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Only print the last N lines (0 prints everything)")
	root.AddCommand(cmd)
}

func runLogs(cmd *cobra.Command, ctl *PgTestCtl, tail int) error {
	cfg, err := ctl.resolveConfig(cmd.Context())
	if err != nil {
		return err
	}

	path := serverLogPath(cfg)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server log at %s. The instance may never have been started with 'pgtestctl start'", path)
		}
		return fmt.Errorf("failed to read server log: %w", err)
	}

	fmt.Print(tailLines(string(content), tail))
	return nil
}

// tailLines returns the last n lines of text, or all of it when n <= 0.
func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}

	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" {
		return text
	}

	lines := strings.Split(trimmed, "\n")
	if n >= len(lines) {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n") + "\n"
}
