package native

import (
	"testing"
	"time"
)

// waitUntil polls cond for up to a second, the same generous margin
// eventworker_test.go uses for its own timer-fire assertions.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

func waitBriefly() { time.Sleep(75 * time.Millisecond) }
