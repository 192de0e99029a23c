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
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// BuildProfile selects how the extension artifact is built.
// Besides the two well-known profiles, any named profile the build tool
// understands is passed through unchanged.
type BuildProfile string

const (
	ProfileDebug   BuildProfile = "debug"
	ProfileRelease BuildProfile = "release"
)

// Env is the environment-variable surface of the test framework.
type Env struct {
	// Skip short-circuits RunTest when non-empty (PGTEST_SKIP).
	Skip string `mapstructure:"skip"`

	// BuildProfile selects the artifact build profile (PGTEST_BUILD_PROFILE).
	BuildProfile BuildProfile `mapstructure:"build_profile"`

	// Features are extra whitespace-separated build features (PGTEST_FEATURES).
	Features string `mapstructure:"features"`

	// NoDefaultFeatures drops the manifest's default features (PGTEST_NO_DEFAULT_FEATURES).
	NoDefaultFeatures bool `mapstructure:"no_default_features"`

	// AllFeatures enables every feature (PGTEST_ALL_FEATURES).
	AllFeatures bool `mapstructure:"all_features"`

	// ManifestPath overrides extension.yaml discovery (PGTEST_MANIFEST_PATH).
	ManifestPath string `mapstructure:"manifest_path"`

	// Log is the harness log level, also passed through to the build tool (PGTEST_LOG).
	Log string `mapstructure:"log"`

	// RunAs overrides the role used for the test database and session (PGTEST_RUNAS).
	RunAs string `mapstructure:"runas"`

	// VerboseErrors adds extended fields to enriched errors (PGTEST_VERBOSE_ERRORS).
	VerboseErrors bool `mapstructure:"verbose_errors"`

	// UseValgrind wraps the server binary in valgrind (PGTEST_USE_VALGRIND).
	UseValgrind bool `mapstructure:"use_valgrind"`

	// PgConfig points at a specific pg_config binary (PG_CONFIG).
	PgConfig string `mapstructure:"pg_config"`
}

// SkipRequested reports whether tests should be skipped entirely.
// Any non-empty value counts, not just "true".
func (e *Env) SkipRequested() bool {
	return e.Skip != ""
}

// LoadEnv reads the framework's environment-variable surface.
func LoadEnv() (*Env, error) {
	v := viper.New()

	bindings := map[string]string{
		"skip":                "PGTEST_SKIP",
		"build_profile":       "PGTEST_BUILD_PROFILE",
		"features":            "PGTEST_FEATURES",
		"no_default_features": "PGTEST_NO_DEFAULT_FEATURES",
		"all_features":        "PGTEST_ALL_FEATURES",
		"manifest_path":       "PGTEST_MANIFEST_PATH",
		"log":                 "PGTEST_LOG",
		"runas":               "PGTEST_RUNAS",
		"verbose_errors":      "PGTEST_VERBOSE_ERRORS",
		"use_valgrind":        "PGTEST_USE_VALGRIND",
		"pg_config":           "PG_CONFIG",
	}
	for key, envVar := range bindings {
		v.SetDefault(key, "")
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", envVar, err)
		}
	}
	v.SetDefault("build_profile", string(ProfileDebug))
	v.SetDefault("no_default_features", false)
	v.SetDefault("all_features", false)
	v.SetDefault("verbose_errors", false)
	v.SetDefault("use_valgrind", false)

	var env Env
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       buildProfileDecodeHook(),
		WeaklyTypedInput: true,
		Result:           &env,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create environment decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	return &env, nil
}

// buildProfileDecodeHook normalizes build profile strings: "dev" and the
// empty string are aliases for the debug profile.
func buildProfileDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(BuildProfile("")) {
			return data, nil
		}
		switch s := strings.TrimSpace(data.(string)); s {
		case "", "dev", "debug":
			return ProfileDebug, nil
		default:
			return BuildProfile(s), nil
		}
	}
}
