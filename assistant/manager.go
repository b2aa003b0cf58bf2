package assistant

import (
	"sync"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/native"
	"github.com/two-barrels/scriptrt/script"
)

// Manager is the channel-assistant registry: one Assistant per live
// channel id, created on chan.startup (or first call.preroute/
// call.route if startup was never observed) and torn down on
// chan.hangup. It is the collaborator the server's module surface
// installs its message relays against.
type Manager struct {
	Bridge      *native.Bridge
	RoutingCode *script.Code

	mu   sync.Mutex
	byID map[string]*Assistant
}

// NewManager builds an empty Manager bound to the shared routing
// script's compiled code (general.routing, ).
func NewManager(bridge *native.Bridge, routingCode *script.Code) *Manager {
	return &Manager{Bridge: bridge, RoutingCode: routingCode, byID: make(map[string]*Assistant)}
}

func (m *Manager) getOrCreate(id string) *Assistant {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		a = New(id, m.Bridge, m.RoutingCode)
		m.byID[id] = a
	}
	return a
}

// Get looks up an existing assistant without creating one, for
// diagnostics and for lifecycle events that only make sense on an
// already-started channel.
func (m *Manager) Get(id string) (*Assistant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	return a, ok
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	a, ok := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	if ok {
		a.Teardown()
	}
}

// Names returns every currently live channel id, for the "info"
// console command.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	return out
}

// HandleMessage routes one host message to the owning channel
// assistant, dispatching by message name per "Host messages
// consumed": chan.startup, chan.hangup, chan.disconnected,
// call.preroute, call.route, call.ringing, call.answered, call.execute.
// The bool result is "message handled", exactly as a regular
// message-bus handler would report it.
func (m *Manager) HandleMessage(msg *messagebus.Message) bool {
	id, _ := msg.GetParam("id")

	switch msg.Name {
	case "chan.startup":
		m.getOrCreate(id).HandleStartup(msg)
		return false
	case "chan.hangup":
		if a, ok := m.Get(id); ok {
			a.HandleHangup(msg)
			m.remove(id)
		}
		return false
	case "chan.disconnected":
		a, ok := m.Get(id)
		if !ok {
			return false
		}
		return a.HandleDisconnected(msg)
	case "call.preroute":
		return m.getOrCreate(id).HandlePreroute(msg)
	case "call.route":
		return m.getOrCreate(id).HandleRoute(msg)
	case "call.ringing":
		a, ok := m.Get(id)
		if !ok {
			return false
		}
		return a.HandleRinging(msg)
	case "call.answered":
		a, ok := m.Get(id)
		if !ok {
			return false
		}
		return a.HandleAnswered(msg)
	case "call.execute":
		m.getOrCreate(id).HandleExecute(msg)
		return false
	default:
		return false
	}
}

// PostExecuteHook is installed as the module-level post-hook on
// call.execute: it looks up the
// already-started assistant and relays the engine's handled/unhandled
// verdict to its onPostExecute callback.
func (m *Manager) PostExecuteHook(msg *messagebus.Message, handled bool) {
	id, _ := msg.GetParam("id")
	if a, ok := m.Get(id); ok {
		a.PostExecute(msg, handled)
	}
}

// Shutdown tears down every live assistant ("Shutdown"
// ordering, applied to per-call state alongside the global catalog).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Assistant, 0, len(m.byID))
	for _, a := range m.byID {
		all = append(all, a)
	}
	m.byID = make(map[string]*Assistant)
	m.mu.Unlock()
	for _, a := range all {
		a.Teardown()
	}
}
