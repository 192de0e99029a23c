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

	"github.com/spf13/cobra"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/executil"
)

// AddStartCommand adds the start subcommand to the root command.
func AddStartCommand(root *cobra.Command, ctl *PgTestCtl) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the test instance as a daemon",
		Long: `Start launches the test server in the background through pg_ctl, waiting
until it accepts connections. Server output goes to the instance log file
(see 'pgtestctl logs').`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, ctl)
		},
	}
	root.AddCommand(cmd)
}

func runStart(cmd *cobra.Command, ctl *PgTestCtl) error {
	ctx := cmd.Context()

	cfg, err := ctl.resolveConfig(ctx)
	if err != nil {
		return err
	}

	if !cfg.IsDataDirInitialized() {
		return fmt.Errorf("data directory not initialized: %s. Run 'pgtestctl init' first", cfg.DataDir())
	}

	if pgconfig.IsServerRunning(cfg.DataDir()) {
		pid, _ := pgconfig.ReadPostmasterPID(cfg.DataDir())
		fmt.Printf("Server already running (pid %d)\n", pid)
		return nil
	}

	serverOpts := fmt.Sprintf("-p %d -h %s", cfg.Port(), cfg.SocketDir())
	pgCtl := executil.Command(ctx, cfg.PgCtlPath(),
		"-D", cfg.DataDir(),
		"-l", serverLogPath(cfg),
		"-o", serverOpts,
		"-w",
		"start",
	)
	pgCtl.SetStdout(os.Stdout)
	pgCtl.SetStderr(os.Stderr)

	if err := pgCtl.Run(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	pid, err := pgconfig.ReadPostmasterPID(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("server started but pid could not be read: %w", err)
	}

	fmt.Printf("Server started (pid %d, port %d, socket dir %s)\n", pid, cfg.Port(), cfg.SocketDir())
	return nil
}
