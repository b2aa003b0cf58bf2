// Package eventworker implements the per-script-instance timer/event
// worker: one goroutine per live root script
// instance, multiplexing timer callbacks and non-time events (e.g.
// re-init) onto the owning runner, modeled on the heap-ordered ticking
// scheduler in
// _examples/other_examples/...MongooseMoo-barn__server-scheduler.go.go.
package eventworker

import (
	"container/heap"
	"sync"
	"time"
)

// EventType orders non-time events relative to time events when both are
// ready in the same tick: lower value wins.
type EventType int

const (
	// EventReInit is delivered before a same-tick timer.
	EventReInit EventType = iota
	EventTimer
)

// Callback is invoked by the worker when an event fires. It runs on the
// worker's own goroutine; callers needing runner access must serialize
// through their own context mutex, the way script.Context already does.
type Callback func(args []interface{})

// timeEvent is one scheduled, repeatable-or-not timer.
type timeEvent struct {
	id           int64
	intervalMs   int64
	repeat       bool
	callback     Callback
	args         []interface{}
	nextFireTime time.Time
	index        int // heap.Interface bookkeeping
	removed      bool
}

// timerHeap orders timeEvents by nextFireTime (earliest first).
type timerHeap []*timeEvent

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].nextFireTime.Before(h[j].nextFireTime) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timeEvent)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// nonTimeEvent is a registered non-time callback (e.g. ReInit), held in
// the "installed" list until an external trigger posts a delivery.
type nonTimeEvent struct {
	id       int64
	typ      EventType
	callback Callback
	args     []interface{}
	repeat   bool
}

// pendingDelivery is a non-time event copied (or moved) into the
// delivery queue by Post.
type pendingDelivery struct {
	typ      EventType
	callback Callback
	args     []interface{}
}

// idleGranularity is the host's minimum timer resolution; intervals
// below it are clamped up, satisfying invariant I8 ("never < host idle
// granularity").
const idleGranularity = time.Millisecond

// Worker is the per-script-instance event multiplexer. It is created
// lazily on first registration by the owning manager/instance and runs
// until Stop is called.
type Worker struct {
	mu sync.Mutex

	timers     timerHeap
	timerByID  map[int64]*timeEvent
	installed  map[int64]*nonTimeEvent
	delivery   []pendingDelivery
	nextID     int64

	wake     chan struct{}
	stopping bool
	done     chan struct{}

	now func() time.Time // overridable for deterministic tests
}

// NewWorker starts a Worker's goroutine and returns it.
func NewWorker() *Worker {
	w := &Worker{
		timerByID: make(map[int64]*timeEvent),
		installed: make(map[int64]*nonTimeEvent),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	heap.Init(&w.timers)
	go w.run()
	return w
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SetTimeout registers a one-shot timer firing after ms (clamped to the
// idle granularity), returning its id.
func (w *Worker) SetTimeout(ms int64, cb Callback, args ...interface{}) int64 {
	return w.addTimer(ms, false, cb, args)
}

// SetInterval registers a repeating timer re-scheduled after each fire
// at now+intervalMs (invariant I8).
func (w *Worker) SetInterval(ms int64, cb Callback, args ...interface{}) int64 {
	return w.addTimer(ms, true, cb, args)
}

func (w *Worker) addTimer(ms int64, repeat bool, cb Callback, args []interface{}) int64 {
	if time.Duration(ms)*time.Millisecond < idleGranularity {
		ms = int64(idleGranularity / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	e := &timeEvent{
		id: id, intervalMs: ms, repeat: repeat, callback: cb, args: args,
		nextFireTime: w.now().Add(time.Duration(ms) * time.Millisecond),
	}
	w.timerByID[id] = e
	heap.Push(&w.timers, e)
	w.signal()
	return id
}

// ClearTimeout removes a time event. Removing an in-flight callback does
// not cancel it, only prevents re-firing.
func (w *Worker) ClearTimeout(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.timerByID[id]
	if !ok {
		return
	}
	e.removed = true
	delete(w.timerByID, id)
	if e.index >= 0 && e.index < len(w.timers) {
		heap.Remove(&w.timers, e.index)
	}
}

// InstallNonTime registers a non-time event (e.g. ReInit), held until
// Post delivers it.
func (w *Worker) InstallNonTime(typ EventType, repeat bool, cb Callback, args ...interface{}) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.installed[id] = &nonTimeEvent{id: id, typ: typ, callback: cb, args: args, repeat: repeat}
	return id
}

// RemoveNonTime unregisters a non-time event by its non-time id (a
// time-event id never matches a non-time removal and vice versa,
// ).
func (w *Worker) RemoveNonTime(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.installed, id)
}

// Post triggers delivery of every installed non-time event of typ: a
// repeatable event is copied into the delivery queue (staying
// installed), a one-shot event is moved out of the installed list.
func (w *Worker) Post(typ EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return
	}
	for id, e := range w.installed {
		if e.typ != typ {
			continue
		}
		w.delivery = append(w.delivery, pendingDelivery{typ: e.typ, callback: e.callback, args: e.args})
		if !e.repeat {
			delete(w.installed, id)
		}
	}
	w.signal()
}

// Stop halts the worker. It refuses to dispatch further timers once
// stopping, but an in-flight callback is allowed to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		stopping := w.stopping

		// Non-time deliveries (EventReInit) win ties against same-moment
		// timers, per "lower type value wins" rule: drain them
		// first each tick.
		if len(w.delivery) > 0 {
			d := w.delivery[0]
			w.delivery = w.delivery[1:]
			w.mu.Unlock()
			if d.callback != nil {
				d.callback(d.args)
			}
			continue
		}

		var due *timeEvent
		if w.timers.Len() > 0 && !stopping {
			top := w.timers[0]
			if !top.nextFireTime.After(w.now()) {
				due = top
			}
		}
		if due != nil {
			heap.Remove(&w.timers, due.index)
			delete(w.timerByID, due.id)
			if due.repeat && !due.removed {
				due.nextFireTime = w.now().Add(time.Duration(due.intervalMs) * time.Millisecond)
				w.timerByID[due.id] = due
				heap.Push(&w.timers, due)
			}
			w.mu.Unlock()
			if !due.removed && due.callback != nil {
				due.callback(due.args)
			}
			continue
		}

		// Nothing ready right now. Once stopping, the worker exits after
		// its current (already-drained) event rather than waiting for
		// anything further.
		if stopping {
			w.mu.Unlock()
			return
		}

		var wait time.Duration = time.Hour
		if w.timers.Len() > 0 {
			wait = w.timers[0].nextFireTime.Sub(w.now())
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()
		select {
		case <-w.wake:
		case <-time.After(wait):
		}
	}
}
