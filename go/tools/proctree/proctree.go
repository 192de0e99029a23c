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

// Package proctree inspects the process ancestry of the current process.
//
// Test binaries are usually launched by "go test", which may itself be
// launched by another "go test" (e.g. through a wrapper). The build flags
// passed to the outermost invocation (notably -tags) need to be propagated
// when the framework rebuilds the extension, so we walk up the tree and
// recover them from the enclosing command line.
package proctree

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// GoTestArgs returns the command line of the topmost "go" process with a
// "test" argument in the current process's ancestry.
//
// Returns nil (and no error) when no such ancestor exists, e.g. when the
// test binary was built with "go test -c" and run directly.
func GoTestArgs() ([]string, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect current process: %w", err)
	}

	var topmost []string
	for {
		parent, err := proc.Parent()
		if err != nil {
			// Reached the top of the visible tree (init, or a PID namespace boundary).
			break
		}

		args, err := parent.CmdlineSlice()
		if err == nil && isGoTest(args) {
			topmost = args
		}

		proc = parent
	}

	return topmost, nil
}

// isGoTest reports whether args looks like a "go test ..." invocation.
func isGoTest(args []string) bool {
	if len(args) < 2 {
		return false
	}
	exe := args[0]
	if base := exe[strings.LastIndexByte(exe, '/')+1:]; base != "go" {
		return false
	}
	for _, arg := range args[1:] {
		if arg == "test" {
			return true
		}
		// Flags to the go tool itself precede the subcommand.
		if !strings.HasPrefix(arg, "-") {
			return false
		}
	}
	return false
}

// BuildTags extracts the build tags from a "go test" command line.
//
// Handles both "-tags=a,b" and "-tags a,b" forms, with either one or two
// leading dashes. Tags may be separated by commas or spaces.
func BuildTags(args []string) []string {
	var tags []string
	for i := 0; i < len(args); i++ {
		arg := strings.TrimPrefix(strings.TrimPrefix(args[i], "-"), "-")
		var value string
		switch {
		case strings.HasPrefix(arg, "tags="):
			value = strings.TrimPrefix(arg, "tags=")
		case arg == "tags" && i+1 < len(args):
			i++
			value = args[i]
		default:
			continue
		}
		for _, tag := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			if tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
