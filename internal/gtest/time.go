package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor is a multiplier controlled by the
// GRANDPA_TEST_TIME_FACTOR environment variable,
// used to stretch test-related timeouts.
//
// A flat 100ms timeout usually suffices on a workstation,
// but not necessarily on a contended CI machine.
// Rather than editing tests to use longer timeouts,
// set e.g. GRANDPA_TEST_TIME_FACTOR=3 to triple them.
//
// The variable is exported in case programmatic control is needed.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GRANDPA_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse GRANDPA_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("GRANDPA_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms in milliseconds, multiplied by [TimeFactor].
//
// [SendOrTimeout] and [ReceiveOrTimeout] take this type rather than a
// plain time.Duration so that callers do not embed literal timeouts,
// which would flake on slower machines.
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}
