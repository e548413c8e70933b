// Package testutil provides shared test helpers for authcore.
//
// All helpers accept [testing.TB] for compatibility with both tests and
// benchmarks. Functions that halt the test on failure use [require] from
// testify; functions that record failures without stopping use [assert].
//
// Every helper calls t.Helper() so that test failure messages report the
// caller's file and line number rather than this package's.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not an *acerr.Error,
// or does not carry the expected error code. This is the primary helper
// for validating error responses.
//
// Example:
//
//	err := store.GetAuth(ctx, "missing")
//	testutil.RequireErrorCode(t, err, acerr.CodeSessionNotFound)
func RequireErrorCode(t testing.TB, err error, code acerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	acErr, ok := acerr.AsError(err)
	require.True(t, ok, "expected *acerr.Error, got %T: %v", err, err)
	require.Equal(t, code, acErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		acErr.Code, code, acErr.Message)
}

// AssertErrorCode records a test failure (without halting) if err is nil,
// is not an *acerr.Error, or does not carry the expected error code.
// Use this in table-driven tests where you want to check all rows.
func AssertErrorCode(t testing.TB, err error, code acerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	acErr, ok := acerr.AsError(err)
	if !assert.True(t, ok, "expected *acerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, acErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		acErr.Code, code, acErr.Message)
}
