// Package testutil provides fakes and polling helpers for tests.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition in real time, for code driven by the wall clock
// rather than a FakeClock. It reports whether condition held before timeout.
func WaitFor(tb testing.TB, condition func() bool, timeout, interval time.Duration) bool {
	tb.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline:
			return condition()
		case <-ticker.C:
		}
	}
}
