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

// Package command implements the pgtestctl subcommands for managing the
// shared test PostgreSQL instance outside of a test run.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mrl5/pg-session-jwt/go/pgconfig"
)

// PgTestCtl holds the configuration shared by all pgtestctl commands.
type PgTestCtl struct {
	pgConfigPath string
	logLevel     string

	cfg *pgconfig.Config
}

// GetRootCommand creates and returns the root command with all subcommands.
func GetRootCommand() (*cobra.Command, *PgTestCtl) {
	ctl := &PgTestCtl{}

	root := &cobra.Command{
		Use:   "pgtestctl",
		Short: "Manage the shared test PostgreSQL instance",
		Long: `pgtestctl manages the ephemeral PostgreSQL instance the extension test
framework runs against. It covers the instance's lifecycle outside of a test
run: initializing the per-version data directory, starting and stopping the
server, checking its status, and inspecting its log.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctl.setupLogging()
		},
	}

	ctl.RegisterFlags(root.PersistentFlags())

	AddInitCommand(root, ctl)
	AddStartCommand(root, ctl)
	AddStopCommand(root, ctl)
	AddStatusCommand(root, ctl)
	AddLogsCommand(root, ctl)

	return root, ctl
}

// RegisterFlags binds the shared pgtestctl flags to the given flag set.
func (c *PgTestCtl) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.pgConfigPath, "pg-config", "",
		"Path to the pg_config binary (defaults to $PG_CONFIG, then PATH lookup)")
	fs.StringVar(&c.logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
}

func (c *PgTestCtl) setupLogging() error {
	level, err := parseLogLevel(c.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
}

// resolveConfig locates the PostgreSQL installation, caching the result for
// the lifetime of the command.
func (c *PgTestCtl) resolveConfig(ctx context.Context) (*pgconfig.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	path := c.pgConfigPath
	if path == "" {
		path = os.Getenv("PG_CONFIG")
	}

	cfg, err := pgconfig.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// serverLogPath is where the start command points the server's log output.
func serverLogPath(cfg *pgconfig.Config) string {
	return filepath.Join(cfg.Home, fmt.Sprintf("server-%d.log", cfg.MajorVersion))
}
