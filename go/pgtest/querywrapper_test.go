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
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPlainColors(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestWrapQueryPassesSuccessThrough(t *testing.T) {
	got, err := WrapQuery("SELECT 1", nil, false, func(query string, args []any) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestWrapQueryEnrichesStructuredError(t *testing.T) {
	withPlainColors(t)

	pqErr := &pq.Error{
		Severity: "ERROR",
		Code:     "42601",
		Message:  "syntax error",
	}

	_, err := WrapQuery("SELEC 1", []any{"a", 2}, false, func(query string, args []any) (int, error) {
		return 0, pqErr
	})
	require.Error(t, err)

	// All three structured fields appear verbatim.
	assert.Contains(t, err.Error(), "ERROR")
	assert.Contains(t, err.Error(), "SQLSTATE[42601]")
	assert.Contains(t, err.Error(), "syntax error")
	assert.Contains(t, err.Error(), "query: SELEC 1")
	assert.Contains(t, err.Error(), "params: [a 2]")
	// Extended fields only appear with the verbose flag.
	assert.NotContains(t, err.Error(), "detail:")

	// The cause chain still reaches the original structured error.
	var unwrapped *pq.Error
	require.True(t, errors.As(err, &unwrapped))
	assert.Equal(t, pqErr, unwrapped)
}

func TestWrapQueryNilParamsRenderAsNone(t *testing.T) {
	withPlainColors(t)

	_, err := WrapQuery("SELECT 1", nil, false, func(query string, args []any) (int, error) {
		return 0, &pq.Error{Severity: "ERROR", Code: "42601", Message: "syntax error"}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params: None")
}

func TestWrapQueryVerboseAddsExtendedFields(t *testing.T) {
	withPlainColors(t)
	// Verbosity is the argument, not ambient process state.
	t.Setenv("PGTEST_VERBOSE_ERRORS", "")

	pqErr := &pq.Error{
		Severity: "ERROR",
		Code:     "23505",
		Message:  "duplicate key value violates unique constraint",
		Detail:   "Key (id)=(1) already exists.",
		Hint:     "Use ON CONFLICT.",
		Schema:   "auth",
		Table:    "sessions",
	}

	_, err := WrapQuery("INSERT INTO auth.sessions VALUES ($1)", []any{1}, true, func(query string, args []any) (int, error) {
		return 0, pqErr
	})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "detail: Key (id)=(1) already exists.")
	assert.Contains(t, err.Error(), "hint: Use ON CONFLICT.")
	assert.Contains(t, err.Error(), "schema: auth")
	assert.Contains(t, err.Error(), "table: sessions")
	assert.Contains(t, err.Error(), "normalized: INSERT INTO auth.sessions VALUES ($1)")
}

func TestWrapQueryVerboseMissingFieldsRenderAsNone(t *testing.T) {
	withPlainColors(t)

	_, err := WrapQuery("SELECT 1", nil, true, func(query string, args []any) (int, error) {
		return 0, &pq.Error{Severity: "ERROR", Code: "42601", Message: "syntax error"}
	})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "detail: None")
	assert.Contains(t, err.Error(), "hint: None")
	assert.Contains(t, err.Error(), "schema: None")
	assert.Contains(t, err.Error(), "table: None")
}

func TestWrapQueryNonStructuredError(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	_, err := WrapQuery("SELECT 1", nil, false, func(query string, args []any) (int, error) {
		return 0, cause
	})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "non-structured database error")
	assert.True(t, errors.Is(err, cause))

	var pqErr *pq.Error
	assert.False(t, errors.As(err, &pqErr))
}

func TestEnrichedErrorUnwrapsThroughWrapping(t *testing.T) {
	pqErr := &pq.Error{Severity: "ERROR", Code: "42P01", Message: `relation "x" does not exist`}

	_, err := WrapQuery("SELECT * FROM x", nil, false, func(query string, args []any) (int, error) {
		return 0, pqErr
	})
	require.Error(t, err)

	// Another layer of wrapping, as callers do.
	wrapped := fmt.Errorf("query failed: %w", err)

	var unwrapped *pq.Error
	require.True(t, errors.As(wrapped, &unwrapped))
	assert.Equal(t, `relation "x" does not exist`, unwrapped.Message)
}
