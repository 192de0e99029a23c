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
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownHooks is the process-wide teardown registry. Hooks run once, in
// registration order, either from Teardown or from the signal handler.
var shutdownHooks struct {
	mu         sync.Mutex
	hooks      []func()
	registered bool
	ran        bool
}

// addShutdownHook registers a teardown function to run at process exit.
func addShutdownHook(fn func()) {
	shutdownHooks.mu.Lock()
	defer shutdownHooks.mu.Unlock()
	shutdownHooks.hooks = append(shutdownHooks.hooks, fn)
}

// registerShutdownHandler installs a signal handler that runs the shutdown
// hooks before the process dies. Called once per process by the bootstrap.
func registerShutdownHandler() {
	shutdownHooks.mu.Lock()
	defer shutdownHooks.mu.Unlock()
	if shutdownHooks.registered {
		return
	}
	shutdownHooks.registered = true

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-ch
		runShutdownHooks()
		// Re-raise with the default disposition so the exit status reflects
		// the signal.
		signal.Reset(sig.(syscall.Signal))
		_ = syscall.Kill(os.Getpid(), sig.(syscall.Signal))
	}()
}

// Teardown runs the registered shutdown hooks, stopping the shared server.
//
// Go has no atexit, so test packages using the framework should call this
// from TestMain after m.Run:
//
//	func TestMain(m *testing.M) {
//		code := m.Run()
//		pgtest.Teardown()
//		os.Exit(code)
//	}
func Teardown() {
	runShutdownHooks()
}

func runShutdownHooks() {
	shutdownHooks.mu.Lock()
	defer shutdownHooks.mu.Unlock()
	if shutdownHooks.ran {
		return
	}
	shutdownHooks.ran = true
	for _, fn := range shutdownHooks.hooks {
		fn()
	}
}
