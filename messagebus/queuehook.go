package messagebus

import (
	"sync"
	"sync/atomic"
)

// QueueHook is a message-name-plus-param-equality filter set, a thread
// pool of workers, and an optional trap callback fired once per
// empty-to-over-threshold transition.
type QueueHook struct {
	Name        string
	Filter      map[string]string // exact-match param filter set
	Threads     int
	TrapLaunch  int
	Received    func(msg *Message)
	Trap        func()

	queue   chan *Message
	wg      sync.WaitGroup
	pending int64
	trapped int32

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueueHook builds a queue hook and starts its worker pool.
func NewQueueHook(name string, filter map[string]string, threads int, received func(*Message), trap func(), trapLaunch int) *QueueHook {
	if threads <= 0 {
		threads = 1
	}
	h := &QueueHook{
		Name: name, Filter: filter, Threads: threads,
		Received: received, Trap: trap, TrapLaunch: trapLaunch,
		queue: make(chan *Message, 256),
		done:  make(chan struct{}),
	}
	for i := 0; i < threads; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

func (h *QueueHook) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case msg, ok := <-h.queue:
			if !ok {
				return
			}
			h.Received(msg)
			atomic.AddInt64(&h.pending, -1)
		}
	}
}

// MatchesFilter reports whether a message's params exactly match this
// hook's installed filter set: same keys, same values, same count.
func (h *QueueHook) MatchesFilter(other map[string]string) bool {
	if len(h.Filter) != len(other) {
		return false
	}
	for k, v := range h.Filter {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (h *QueueHook) accepts(m *Message) bool {
	if h.Filter == nil {
		return true
	}
	for k, v := range h.Filter {
		pv, ok := m.GetParam(k)
		if !ok || pv != v {
			return false
		}
	}
	return true
}

// Accept enqueues msg for asynchronous delivery if it matches the
// hook's filter, firing Trap exactly once on an empty-to-over-threshold
// transition of the pending count.
func (h *QueueHook) Accept(msg *Message) bool {
	if !h.accepts(msg) {
		return false
	}
	before := atomic.AddInt64(&h.pending, 1) - 1
	after := before + 1
	select {
	case h.queue <- msg:
	default:
		// Backlog full: still counted as pending, delivered once a
		// worker frees up via a blocking send in a goroutine.
		go func() { h.queue <- msg }()
	}
	if h.TrapLaunch > 0 && h.Trap != nil {
		if before <= int64(h.TrapLaunch) && after > int64(h.TrapLaunch) {
			if atomic.CompareAndSwapInt32(&h.trapped, 0, 1) {
				go h.Trap()
			}
		}
		if after <= int64(h.TrapLaunch) {
			atomic.StoreInt32(&h.trapped, 0)
		}
	}
	return true
}

// Uninstall stops the worker pool. In-flight callbacks are not
// cancelled, matching the general "removal doesn't cancel in-flight
// work" rule.
func (h *QueueHook) Uninstall() {
	h.closeOnce.Do(func() {
		close(h.done)
		close(h.queue)
	})
	h.wg.Wait()
}
