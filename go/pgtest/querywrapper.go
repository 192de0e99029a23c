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
	"strings"

	"github.com/fatih/color"
	"github.com/lib/pq"
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// EnrichedError decorates a structured server error with a composed
// multi-line diagnostic. It unwraps to the original *pq.Error so callers
// can still match on SQLSTATE or message.
type EnrichedError struct {
	cause   error
	message string
}

func (e *EnrichedError) Error() string { return e.message }

func (e *EnrichedError) Unwrap() error { return e.cause }

// WrapQuery runs fn with the given query and arguments and enriches any
// structured server error it returns.
//
// On success the result passes through untouched. A *pq.Error becomes an
// EnrichedError combining severity, SQLSTATE, message, the literal query
// text and parameters, plus — when verbose is set — the extended fields
// (detail, hint, schema, table) and a normalized form of the statement.
// Any other failure is wrapped with a generic annotation.
func WrapQuery[T any](query string, args []any, verbose bool, fn func(query string, args []any) (T, error)) (T, error) {
	result, err := fn(query, args)
	if err == nil {
		return result, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return result, fmt.Errorf("non-structured database error: %w", err)
	}

	return result, &EnrichedError{
		cause:   err,
		message: composeDiagnostic(pqErr, query, args, verbose),
	}
}

func composeDiagnostic(pqErr *pq.Error, query string, args []any, verbose bool) string {
	boldRed := color.New(color.Bold, color.FgRed)
	boldWhite := color.New(color.Bold, color.FgWhite)

	var sb strings.Builder
	sb.WriteString(boldRed.Sprintf("%s SQLSTATE[%s]", pqErr.Severity, string(pqErr.Code)))
	sb.WriteString(": ")
	sb.WriteString(boldWhite.Sprint(pqErr.Message))
	sb.WriteString("\nquery: ")
	sb.WriteString(boldWhite.Sprint(query))
	sb.WriteString("\nparams: ")
	if args == nil {
		sb.WriteString("None")
	} else {
		fmt.Fprintf(&sb, "%v", args)
	}

	if verbose {
		fmt.Fprintf(&sb, "\ndetail: %s", orNone(pqErr.Detail))
		fmt.Fprintf(&sb, "\nhint: %s", orNone(pqErr.Hint))
		fmt.Fprintf(&sb, "\nschema: %s", orNone(pqErr.Schema))
		fmt.Fprintf(&sb, "\ntable: %s", orNone(pqErr.Table))
		if normalized, err := pg_query.Normalize(query); err == nil {
			fmt.Fprintf(&sb, "\nnormalized: %s", normalized)
		}
	}

	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
