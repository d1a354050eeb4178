package gtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a *slog.Logger associated with the test t.
func NewLogger(t testing.TB) *slog.Logger {
	// slogt has been a stable adapter from slog to testing.T.Log calls.
	// Abstracting it behind gtest keeps tests from depending on it directly.
	return slogt.New(t, slogt.Text())
}
