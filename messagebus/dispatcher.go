package messagebus

import (
	"sort"
	"sync"

	"github.com/oklog/ulid"
	"github.com/two-barrels/scriptrt/script"
)

// Dispatcher is the in-process message engine: an ordered list of
// installed handlers and post-hooks, delivered locally within the
// owning process. The NATS/RabbitMQ Bus (bus.go) relays messages
// across processes; this Dispatcher is
// the synchronous local delivery path a script's
// Message.dispatch()/enqueue() ultimately goes through, keeping event
// routing entirely in-process behind one mutex.
type Dispatcher struct {
	mu           sync.Mutex
	handlers     []*Handle
	postHooks    []*Handle
	shuttingDown bool
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Install adds a handler or post-hook, keeping handlers sorted by
// ascending priority (lower numbers dispatch first, // "Priorities and filters").
func (d *Dispatcher) Install(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.Kind == KindPostHook {
		d.postHooks = append(d.postHooks, h)
		return
	}
	i := sort.Search(len(d.handlers), func(i int) bool { return d.handlers[i].Priority > h.Priority })
	d.handlers = append(d.handlers, nil)
	copy(d.handlers[i+1:], d.handlers[i:])
	d.handlers[i] = h
}

// Uninstall removes a handle by id from whichever list it lives in.
// Per invariant I3, a handler uninstalled here is never invoked by a
// subsequent Dispatch call; a delivery already underway is unaffected.
func (d *Dispatcher) Uninstall(id ulid.ULID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := indexByID(d.handlers, id); i >= 0 {
		d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
		return true
	}
	if i := indexByID(d.postHooks, id); i >= 0 {
		d.postHooks = append(d.postHooks[:i], d.postHooks[i+1:]...)
		return true
	}
	return false
}

func indexByID(hs []*Handle, id ulid.ULID) int {
	for i, h := range hs {
		if h.ID == id {
			return i
		}
	}
	return -1
}

// Shutdown marks the dispatcher as shutting down: every subsequent
// Dispatch short-circuits every handle invocation to false, per
// "On shutdown all invocations are short-circuited".
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()
}

// Dispatch runs msg through installed handlers (in priority order,
// stopping at the first one that returns true) and then every
// post-hook, building each invocation's script.Operation message
// binding via build. It returns whether any handler reported the
// message handled.
func (d *Dispatcher) Dispatch(msg *Message, build func(*Message) script.Operation) bool {
	d.mu.Lock()
	handlers := append([]*Handle(nil), d.handlers...)
	postHooks := append([]*Handle(nil), d.postHooks...)
	shuttingDown := d.shuttingDown
	d.mu.Unlock()

	handled := false
	for _, h := range handlers {
		if h.Invoke(msg, build(msg), handled, shuttingDown) {
			handled = true
			msg.SetHandled(true)
			break
		}
	}
	for _, h := range postHooks {
		h.Invoke(msg, build(msg), handled, shuttingDown)
	}
	return handled
}
