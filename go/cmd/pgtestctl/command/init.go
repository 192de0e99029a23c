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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
	"github.com/mrl5/pg-session-jwt/go/tools/executil"
)

// AddInitCommand adds the init subcommand to the root command.
func AddInitCommand(root *cobra.Command, ctl *PgTestCtl) {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the test instance's data directory",
		Long: `Init creates the per-version data directory if it does not exist and
writes the generated configuration the test framework depends on. Running it
against an already initialized directory only refreshes the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, ctl)
		},
	}
	root.AddCommand(cmd)
}

func runInit(cmd *cobra.Command, ctl *PgTestCtl) error {
	ctx := cmd.Context()

	cfg, err := ctl.resolveConfig(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.Home, err)
	}

	if cfg.IsDataDirInitialized() {
		slog.Info("data directory already initialized", "data_dir", cfg.DataDir())
	} else {
		args := append(pgconfig.CLocaleFlags(), "-D", cfg.DataDir())
		initdb := executil.Command(ctx, cfg.InitdbPath(), args...)
		initdb.SetStdout(os.Stdout)
		initdb.SetStderr(os.Stderr)
		if err := initdb.Run(); err != nil {
			return fmt.Errorf("failed to initialize data directory using %q: %w", initdb.String(), err)
		}
		slog.Info("data directory initialized", "data_dir", cfg.DataDir(), "version", cfg.Version)
	}

	if err := pgconfig.WriteAutoConf(cfg.DataDir(), cfg.SocketDir(), nil); err != nil {
		return err
	}

	fmt.Printf("Initialized %s (port %d, socket dir %s)\n", cfg.DataDir(), cfg.Port(), cfg.SocketDir())
	return nil
}
