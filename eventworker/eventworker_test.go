package eventworker

import (
	"sync"
	"testing"
	"time"
)

func TestSetTimeoutFires(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	done := make(chan struct{})
	w.SetTimeout(10, func(args []interface{}) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
}

func TestClearTimeoutSuppressesFire(t *testing.T) {
	// S4: clearTimeout before the deadline suppresses the set.
	w := NewWorker()
	defer w.Stop()

	var mu sync.Mutex
	fired := false
	id := w.SetTimeout(25, func(args []interface{}) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	w.ClearTimeout(id)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("cleared timeout must not fire")
	}
}

func TestSetTimeoutFiresWhenNotCleared(t *testing.T) {
	// S4: after 25ms the shared var is set.
	w := NewWorker()
	defer w.Stop()

	var mu sync.Mutex
	fired := false
	w.SetTimeout(25, func(args []interface{}) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	time.Sleep(75 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatal("uncleared timeout must fire")
	}
}

func TestSetIntervalReschedulesAfterFire(t *testing.T) {
	// I8: inter-fire interval >= ms.
	w := NewWorker()
	defer w.Stop()

	var mu sync.Mutex
	var fires []time.Time
	w.SetInterval(20, func(args []interface{}) {
		mu.Lock()
		fires = append(fires, time.Now())
		mu.Unlock()
	})

	time.Sleep(90 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fires) < 2 {
		t.Fatalf("expected at least 2 fires, got %d", len(fires))
	}
	for i := 1; i < len(fires); i++ {
		gap := fires[i].Sub(fires[i-1])
		if gap < 20*time.Millisecond-2*time.Millisecond {
			t.Fatalf("fire %d came too soon after %d: gap=%v", i, i-1, gap)
		}
	}
}

func TestPostDeliversInstalledNonTimeEventAndRepeats(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var mu sync.Mutex
	count := 0
	w.InstallNonTime(EventReInit, true, func(args []interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	w.Post(EventReInit)
	w.Post(EventReInit)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := count
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected a repeatable non-time event to fire on every Post, got %d", count)
	}
}

func TestPostMovesOutOneShotNonTimeEvent(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var mu sync.Mutex
	count := 0
	w.InstallNonTime(EventReInit, false, func(args []interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	w.Post(EventReInit)
	w.Post(EventReInit)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected a one-shot non-time event to fire exactly once, got %d", count)
	}
}

func TestRemovingInFlightTimerDoesNotCancelCurrentCall(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	started := make(chan struct{})
	finished := make(chan struct{})
	var id int64
	id = w.SetTimeout(5, func(args []interface{}) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
	})

	<-started
	w.ClearTimeout(id) // removing while running must not cancel the in-flight call

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight callback must still complete after ClearTimeout")
	}
}

func TestStopRefusesFurtherDispatch(t *testing.T) {
	w := NewWorker()
	var mu sync.Mutex
	fired := false
	w.SetTimeout(200, func(args []interface{}) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	w.Stop()

	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("stopped worker must not dispatch timers still pending at shutdown")
	}
}
