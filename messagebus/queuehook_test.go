package messagebus

import (
	"sync"
	"testing"
	"time"
)

func TestQueueHookDispatchesToWorkers(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	h := NewQueueHook("q1", map[string]string{"kind": "a"}, 2, func(m *Message) {
		mu.Lock()
		seen = append(seen, m.Name)
		mu.Unlock()
	}, nil, 0)
	defer h.Uninstall()

	match := NewMessage("evt.one", false, map[string]string{"kind": "a"})
	nomatch := NewMessage("evt.two", false, map[string]string{"kind": "b"})

	if !h.Accept(match) {
		t.Fatal("matching message should be accepted")
	}
	if h.Accept(nomatch) {
		t.Fatal("non-matching message should be rejected")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "evt.one" {
		t.Fatalf("expected exactly evt.one delivered, got %v", seen)
	}
}

func TestQueueHookFilterEquality(t *testing.T) {
	h := NewQueueHook("q2", map[string]string{"a": "1", "b": "2"}, 1, func(*Message) {}, nil, 0)
	defer h.Uninstall()

	if !h.MatchesFilter(map[string]string{"a": "1", "b": "2"}) {
		t.Fatal("identical filter sets must compare equal")
	}
	if h.MatchesFilter(map[string]string{"a": "1"}) {
		t.Fatal("different key count must not compare equal")
	}
	if h.MatchesFilter(map[string]string{"a": "1", "b": "3"}) {
		t.Fatal("different value must not compare equal")
	}
}

func TestQueueHookTrapFiresOnceOnTransition(t *testing.T) {
	var mu sync.Mutex
	trapCount := 0
	block := make(chan struct{})

	h := NewQueueHook("q3", nil, 1, func(m *Message) {
		<-block
	}, func() {
		mu.Lock()
		trapCount++
		mu.Unlock()
	}, 1)
	defer func() {
		close(block)
		h.Uninstall()
	}()

	h.Accept(NewMessage("a", false, nil))
	h.Accept(NewMessage("b", false, nil))
	h.Accept(NewMessage("c", false, nil))

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	n := trapCount
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected trap to fire exactly once, fired %d times", n)
	}
}
