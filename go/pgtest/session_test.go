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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeSessionID(t *testing.T) {
	tests := []struct {
		epoch int64
		pid   int
		want  string
	}{
		{1756299714, 4242, "68af01c2.1092"},
		{0, 0, "0.0"},
		{15, 15, "f.f"},
		{1700000000, 1, "6553f100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeSessionID(tt.epoch, tt.pid))
		})
	}
}

// The correlation contract: the identity derived on a live connection must
// equal the session tag the server writes into its log prefix for the same
// backend.
func TestSessionIDMatchesLogTag(t *testing.T) {
	const epoch, pid = int64(1756299714), 4242

	derived := encodeSessionID(epoch, pid)
	logLine := fmt.Sprintf("[2026-08-27 10:00:01.123 UTC] [%d] [%s]: LOG:  statement: SELECT 1", pid, derived)

	assert.Equal(t, derived, SessionIDFromLine(logLine))
}

func TestBootstrapRole(t *testing.T) {
	t.Setenv("USER", "neon")
	role, err := bootstrapRole()
	assert.NoError(t, err)
	assert.Equal(t, "neon", role)
}

func TestBootstrapRoleUnset(t *testing.T) {
	t.Setenv("USER", "")
	_, err := bootstrapRole()
	assert.Error(t, err)
}
