package assistant

import (
	"sync"
	"testing"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/native"
	"github.com/two-barrels/scriptrt/objects"
	"github.com/two-barrels/scriptrt/script"
	"github.com/two-barrels/scriptrt/vars"
)

func newTestBridge() *native.Bridge {
	dispatcher := messagebus.NewDispatcher()
	return native.NewBridge("test-engine", vars.NewStore(), objects.NewStore(), dispatcher, nil)
}

// fakeBus is a minimal messagebus.Bus double that records every
// published message, for asserting Hangup's call.drop dispatch without
// depending on the handler/post-hook installation machinery.
type fakeBus struct {
	mu        sync.Mutex
	published []*messagebus.Message
	done      chan struct{}
}

func newFakeBus() *fakeBus { return &fakeBus{done: make(chan struct{}, 8)} }

func (b *fakeBus) Connect() error { return nil }
func (b *fakeBus) Close() error   { return nil }
func (b *fakeBus) Publish(subject string, msg *messagebus.Message) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()
	b.done <- struct{}{}
	return nil
}
func (b *fakeBus) Subscribe(subject string, handler func(subject string, msg *messagebus.Message)) (messagebus.Subscription, error) {
	return nil, nil
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		NotStarted: "not-started",
		Routing:    "routing",
		ReRoute:    "reroute",
		Ended:      "ended",
		Hangup:     "hangup",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestNewInstallsChannelBinding(t *testing.T) {
	bridge := newTestBridge()
	code := script.NewBuilder("empty.js").Build()
	a := New("chan-1", bridge, code)
	defer a.Teardown()

	if a.ID() != "chan-1" {
		t.Fatalf("expected id chan-1, got %s", a.ID())
	}
	if a.State() != NotStarted {
		t.Fatalf("expected NotStarted, got %v", a.State())
	}
	if v, ok := a.ctx.Root().GetField("Channel"); !ok || v.Object() == nil {
		t.Fatal("expected a Channel binding installed on the context root")
	}
}

func TestHandleRouteNoOnRouteIsUnhandled(t *testing.T) {
	bridge := newTestBridge()
	code := script.NewBuilder("empty.js").Build()
	a := New("chan-1", bridge, code)
	defer a.Teardown()

	msg := messagebus.NewMessage("call.route", false, map[string]string{"id": "chan-1"})
	if handled := a.HandleRoute(msg); handled {
		t.Fatal("expected unhandled when the script defines no onRoute")
	}
	if a.State() != Routing {
		t.Fatalf("expected Routing after a first call.route, got %v", a.State())
	}
}

// callToScript defines an onRoute that returns false without calling
// Channel.callTo; tests that need a routing answer drive CallTo/CallJust
// directly ("msgRoute" is governed by the handled flag, not the
// callback's boolean result).
func callToScript() *script.Code {
	return script.NewBuilder("callto.js").
		DefineFunc("onRoute", []string{"msg"}, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(false), nil
		}).
		Build()
}

func TestCallToMarksHandledOnlyDuringLiveRoute(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	// Outside a routing run, callTo must refuse: there is no live
	// message to stamp a retValue onto.
	if a.CallTo("dest", nil) {
		t.Fatal("expected callTo to fail outside a routing run")
	}

	msg := messagebus.NewMessage("call.route", false, map[string]string{"id": "chan-1"})
	a.liveOK = true
	a.liveHost = msg
	if !a.CallTo("dest", map[string]string{"k": "v"}) {
		t.Fatal("expected callTo to succeed during a live route")
	}
	if msg.RetValue != "dest" {
		t.Fatalf("expected retValue dest, got %q", msg.RetValue)
	}
	if v, _ := msg.GetParam("k"); v != "v" {
		t.Fatalf("expected param k=v, got %q", v)
	}
	if !a.Handled() {
		t.Fatal("expected handled flag set after callTo")
	}
}

func TestCallJustEndsTheScript(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	msg := messagebus.NewMessage("call.route", false, nil)
	a.liveOK = true
	a.liveHost = msg
	a.state = Routing

	if !a.CallJust("dest", nil) {
		t.Fatal("expected callJust to succeed")
	}
	if a.State() != Ended {
		t.Fatalf("expected Ended after callJust, got %v", a.State())
	}
}

func TestHandleRouteStateProgression(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	msg := messagebus.NewMessage("call.route", false, nil)
	a.HandleRoute(msg)
	if a.State() != Routing {
		t.Fatalf("expected Routing after first call.route, got %v", a.State())
	}

	a.HandleRoute(msg)
	if a.State() != ReRoute {
		t.Fatalf("expected ReRoute after second call.route, got %v", a.State())
	}

	// Once Ended, a further call.route is a monotone no-op.
	a.state = Ended
	if a.HandleRoute(msg) {
		t.Fatal("expected a late call.route to be unhandled")
	}
	if a.State() != Ended {
		t.Fatalf("expected state to remain Ended, got %v", a.State())
	}
}

func TestHandleDisconnectedReentersRoutingWhenUncallback(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	a.state = Routing
	msg := messagebus.NewMessage("chan.disconnected", false, nil)
	// onDisconnected is undefined in callToScript; since the state is
	// still Routing, the disconnect must re-enter HandleRoute.
	a.HandleDisconnected(msg)
	if a.State() != ReRoute {
		t.Fatalf("expected ReRoute after a re-entrant disconnect, got %v", a.State())
	}
}

func TestHandleDisconnectedNoReentryWhenNotRouting(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	a.state = Ended
	msg := messagebus.NewMessage("chan.disconnected", false, nil)
	if a.HandleDisconnected(msg) {
		t.Fatal("expected no re-route once Ended")
	}
	if a.State() != Ended {
		t.Fatalf("expected state to remain Ended, got %v", a.State())
	}
}

func TestHangupPublishesCallDropAndEndsScript(t *testing.T) {
	bridge := newTestBridge()
	bus := newFakeBus()
	bridge.Bus = bus

	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()
	a.state = Routing

	if !a.Hangup("normal", map[string]string{"cause": "16"}, "") {
		t.Fatal("expected hangup to succeed")
	}
	if a.State() != Ended {
		t.Fatalf("expected Ended after hangup, got %v", a.State())
	}
	<-bus.done

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(bus.published))
	}
	captured := bus.published[0]
	if captured.Name != "call.drop" {
		t.Fatalf("expected call.drop, got %s", captured.Name)
	}
	if id, _ := captured.GetParam("id"); id != "chan-1" {
		t.Fatalf("expected drop targeted at chan-1, got %q", id)
	}
	if reason, _ := captured.GetParam("reason"); reason != "normal" {
		t.Fatalf("expected reason=normal, got %q", reason)
	}
}

func TestAnswerAndRingingSetFlags(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	if a.Answered() {
		t.Fatal("expected not answered initially")
	}
	a.Answer()
	if !a.Answered() {
		t.Fatal("expected answered after Answer()")
	}
	a.Ringing()
	if !a.ringing {
		t.Fatal("expected ringing flag set after Ringing()")
	}
}

func TestParamRoundTrip(t *testing.T) {
	bridge := newTestBridge()
	a := New("chan-1", bridge, callToScript())
	defer a.Teardown()

	if _, ok := a.GetParam("missing"); ok {
		t.Fatal("expected missing param to report ok=false")
	}
	a.SetParam("billid", "abc123")
	if v, ok := a.GetParam("billid"); !ok || v != "abc123" {
		t.Fatalf("expected billid=abc123, got %q ok=%v", v, ok)
	}
}

func TestManagerStartupRouteHangupLifecycle(t *testing.T) {
	bridge := newTestBridge()
	m := NewManager(bridge, callToScript())

	startup := messagebus.NewMessage("chan.startup", false, map[string]string{"id": "chan-1"})
	m.HandleMessage(startup)
	if _, ok := m.Get("chan-1"); !ok {
		t.Fatal("expected chan.startup to create an assistant")
	}

	route := messagebus.NewMessage("call.route", false, map[string]string{"id": "chan-1"})
	m.HandleMessage(route)
	a, _ := m.Get("chan-1")
	if a.State() != Routing {
		t.Fatalf("expected Routing after call.route, got %v", a.State())
	}

	hangup := messagebus.NewMessage("chan.hangup", false, map[string]string{"id": "chan-1"})
	m.HandleMessage(hangup)
	if _, ok := m.Get("chan-1"); ok {
		t.Fatal("expected chan.hangup to remove the assistant")
	}
}

func TestManagerPostExecuteHookRelaysToAssistant(t *testing.T) {
	bridge := newTestBridge()
	m := NewManager(bridge, callToScript())

	startup := messagebus.NewMessage("chan.startup", false, map[string]string{"id": "chan-1"})
	m.HandleMessage(startup)

	msg := messagebus.NewMessage("call.execute", false, map[string]string{"id": "chan-1"})
	// Should not panic and should be a no-op when onPostExecute is
	// undefined in the script.
	m.PostExecuteHook(msg, true)
}

func TestManagerUnknownChannelIsNoOp(t *testing.T) {
	bridge := newTestBridge()
	m := NewManager(bridge, callToScript())

	ringing := messagebus.NewMessage("call.ringing", false, map[string]string{"id": "ghost"})
	if m.HandleMessage(ringing) {
		t.Fatal("expected an unknown channel's call.ringing to be unhandled")
	}
}

func TestManagerShutdownTearsDownAllAssistants(t *testing.T) {
	bridge := newTestBridge()
	m := NewManager(bridge, callToScript())

	m.HandleMessage(messagebus.NewMessage("chan.startup", false, map[string]string{"id": "a"}))
	m.HandleMessage(messagebus.NewMessage("chan.startup", false, map[string]string{"id": "b"}))
	if len(m.Names()) != 2 {
		t.Fatalf("expected 2 live assistants, got %d", len(m.Names()))
	}

	m.Shutdown()
	if len(m.Names()) != 0 {
		t.Fatalf("expected no assistants after shutdown, got %d", len(m.Names()))
	}
}
