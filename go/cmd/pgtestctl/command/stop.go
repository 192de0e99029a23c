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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/executil"
)

// stopGracePeriod bounds the direct-signal fallback's wait for the postmaster
// to exit.
const stopGracePeriod = 30 * time.Second

// AddStopCommand adds the stop subcommand to the root command.
func AddStopCommand(root *cobra.Command, ctl *PgTestCtl) {
	var mode string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the test instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, ctl, mode)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "fast", "Shutdown mode (smart, fast, immediate)")
	root.AddCommand(cmd)
}

func runStop(cmd *cobra.Command, ctl *PgTestCtl, mode string) error {
	ctx := cmd.Context()

	cfg, err := ctl.resolveConfig(ctx)
	if err != nil {
		return err
	}

	if !pgconfig.IsServerRunning(cfg.DataDir()) {
		fmt.Println("Server is not running")
		return nil
	}

	pgCtl := executil.Command(ctx, cfg.PgCtlPath(),
		"-D", cfg.DataDir(),
		"-m", mode,
		"-w",
		"stop",
	)
	pgCtl.SetStdout(os.Stdout)
	pgCtl.SetStderr(os.Stderr)

	if err := pgCtl.Run(); err != nil {
		if stopErr := stopPostmasterDirectly(ctx, cfg.DataDir()); stopErr != nil {
			return fmt.Errorf("failed to stop server: %w (direct signal also failed: %v)", err, stopErr)
		}
	}

	fmt.Println("Server stopped")
	return nil
}

// stopPostmasterDirectly signals the postmaster from the pid file when pg_ctl
// itself fails, e.g. because the binary moved after the server was started.
func stopPostmasterDirectly(ctx context.Context, dataDir string) error {
	pid, err := pgconfig.ReadPostmasterPID(dataDir)
	if err != nil {
		return err
	}

	fmt.Printf("pg_ctl failed, signalling postmaster (pid=%d) directly\n", pid)

	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()
	stopped, err := executil.StopPID(stopCtx, pid)
	if err != nil {
		return err
	}
	if !stopped {
		return fmt.Errorf("postmaster (pid=%d) did not exit", pid)
	}
	return nil
}
