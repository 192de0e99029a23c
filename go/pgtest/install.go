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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mrl5/pg-session-jwt/go/tools/executil"
	"github.com/mrl5/pg-session-jwt/go/tools/pathutil"
	"github.com/mrl5/pg-session-jwt/go/tools/proctree"
)

// installExtension builds and installs the extension artifact into the
// resolved PostgreSQL installation by running the manifest's build tool.
//
// The tool contract is deliberately opaque: run `<tool> <manifest args>
// install` in the extension project directory with the build parameters in
// the environment. stdout is inherited so build progress stays visible;
// stderr is captured and surfaced verbatim on failure.
func (f *framework) installExtension(ctx context.Context, env *Env) error {
	slog.Info("installing extension", "name", f.manifest.Name, "tool", f.manifest.Build.Tool)

	goTestArgs, err := proctree.GoTestArgs()
	if err != nil {
		slog.Warn("could not inspect the enclosing test invocation", "error", err)
	} else if goTestArgs != nil {
		slog.Info("detected enclosing test invocation", "args", goTestArgs)
	}
	features := collectFeatures(env, f.manifest, goTestArgs)

	args := append(append([]string{}, f.manifest.Build.Args...), "install")

	cmd := executil.Command(ctx, f.manifest.Build.Tool, args...)
	cmd.SetDir(f.manifest.Dir())
	// The target installation's binaries come first so the build tool picks
	// up the same pg_config, psql etc. the harness resolved.
	cmd.AddEnv(
		"PATH="+pathutil.PrependPath(f.cfg.BinDir),
		"PG_CONFIG="+f.cfg.PgConfigPath,
		"PGTEST_PROFILE="+string(env.BuildProfile),
		"FEATURES="+strings.Join(features, " "),
	)
	if env.NoDefaultFeatures {
		cmd.AddEnv("NO_DEFAULT_FEATURES=true")
	}
	if env.AllFeatures {
		cmd.AddEnv("ALL_FEATURES=true")
	}
	if env.Log != "" {
		cmd.AddEnv("PGTEST_LOG=" + env.Log)
	}

	var stderr bytes.Buffer
	cmd.SetStdout(os.Stdout)
	cmd.SetStderr(&stderr)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to install extension using command %q: %w\n\n%s",
			cmd.String(), err, stderr.String())
	}
	return nil
}
