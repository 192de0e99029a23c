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

	"github.com/spf13/cobra"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
)

// AddStatusCommand adds the status subcommand to the root command.
func AddStatusCommand(root *cobra.Command, ctl *PgTestCtl) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the test instance's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, ctl)
		},
	}
	root.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, ctl *PgTestCtl) error {
	cfg, err := ctl.resolveConfig(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Installation: %s\n", cfg.Version)
	fmt.Printf("Data directory: %s\n", cfg.DataDir())
	fmt.Printf("Port: %d\n", cfg.Port())
	fmt.Printf("Socket directory: %s\n", cfg.SocketDir())

	if !cfg.IsDataDirInitialized() {
		fmt.Println("Status: not initialized")
		return nil
	}

	pid, err := pgconfig.ReadPostmasterPID(cfg.DataDir())
	if err != nil {
		fmt.Println("Status: stopped")
		return nil
	}

	if pgconfig.IsProcessRunning(pid) {
		fmt.Printf("Status: running (pid %d)\n", pid)
	} else {
		fmt.Printf("Status: stopped (stale pid file, pid %d)\n", pid)
	}
	return nil
}
