// Package glog contains helpers for consistent slog usage.
package glog

import (
	"fmt"
	"log/slog"
)

// Hex wraps a byte slice or string so that it serializes
// as a hex-encoded string in log output.
// Without this, byte slices render as Unicode strings
// with embedded escape codes.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}

// RN returns a copy of log that includes a field for the given round number.
//
// Most log calls in the past-round subsystem are scoped to one round,
// so this shorthand saves boilerplate.
func RN(log *slog.Logger, roundNumber uint64) *slog.Logger {
	return log.With("round", roundNumber)
}
