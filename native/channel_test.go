package native

import (
	"testing"

	"github.com/two-barrels/scriptrt/script"
)

// fakeChannelHost is a minimal ChannelHost double for exercising
// InstallChannel without depending on the assistant package (native must
// not import it, per ChannelHost's doc comment).
type fakeChannelHost struct {
	id       string
	status   string
	answered bool
	params   map[string]string
	ringing  bool
	calledTo string
	calledJ  string
	hungUp   bool
}

func newFakeChannelHost(id string) *fakeChannelHost {
	return &fakeChannelHost{id: id, status: "routing", params: map[string]string{}}
}

func (h *fakeChannelHost) ID() string     { return h.id }
func (h *fakeChannelHost) Status() string { return h.status }
func (h *fakeChannelHost) Answered() bool { return h.answered }
func (h *fakeChannelHost) GetParam(name string) (string, bool) {
	v, ok := h.params[name]
	return v, ok
}
func (h *fakeChannelHost) SetParam(name, value string) { h.params[name] = value }
func (h *fakeChannelHost) Answer() bool                { h.answered = true; return true }
func (h *fakeChannelHost) Ringing() bool                { h.ringing = true; return true }
func (h *fakeChannelHost) Message() (script.Operation, bool) {
	return script.Operation{}, false
}
func (h *fakeChannelHost) CallTo(target string, params map[string]string) bool {
	h.calledTo = target
	return true
}
func (h *fakeChannelHost) CallJust(target string, params map[string]string) bool {
	h.calledJ = target
	return true
}
func (h *fakeChannelHost) Hangup(reason string, params map[string]string, peer string) bool {
	h.hungUp = true
	return true
}

func TestInstallChannelBindsHostAndExposesFields(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	host := newFakeChannelHost("chan/7")

	channel := b.InstallChannel(ctx, host)

	if v, ok := ctx.Root().GetField("Channel"); !ok || v.Object() != channel {
		t.Fatal("expected InstallChannel to bind Channel onto the context root")
	}
	if mustField(t, channel, "id").Str() != "chan/7" {
		t.Fatal("expected id to reflect host.ID()")
	}
	if mustField(t, channel, "status").Str() != "routing" {
		t.Fatal("expected status to reflect host.Status()")
	}
	if mustField(t, channel, "answered").Boolean() {
		t.Fatal("expected answered to start false")
	}

	callNative(t, channel, "answer")
	if !host.answered {
		t.Fatal("expected answer() to call through to the host")
	}

	callNative(t, channel, "callTo", script.String("sip/100"))
	if host.calledTo != "sip/100" {
		t.Fatalf("expected callTo to reach the host, got %q", host.calledTo)
	}
	callNative(t, channel, "callJust", script.String("sip/200"))
	if host.calledJ != "sip/200" {
		t.Fatalf("expected callJust to reach the host, got %q", host.calledJ)
	}
	callNative(t, channel, "hangup", script.String("normal"))
	if !host.hungUp {
		t.Fatal("expected hangup to reach the host")
	}

	b.RemoveChannel(ctx)
	if _, ok := ctx.Root().GetField("Channel"); ok {
		t.Fatal("expected RemoveChannel to detach the binding")
	}
}

func TestChannelGetParamSetParamViaNativeFields(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	host := newFakeChannelHost("chan/8")

	channel := b.InstallChannel(ctx, host)

	if v, ok := channel.GetField("billid"); ok {
		t.Fatalf("expected missing param field to be absent, got %v", v)
	}
	channel.Assign("billid", script.String("abc"))
	if host.params["billid"] != "abc" {
		t.Fatal("expected assigning an unknown field to route to SetParam")
	}
	if got, ok := channel.GetField("billid"); !ok || got.Str() != "abc" {
		t.Fatal("expected reading it back to route through GetParam")
	}
}

func TestChannelReadOnlyFieldsRefuseWrites(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	host := newFakeChannelHost("chan/9")
	channel := b.InstallChannel(ctx, host)

	channel.Assign("status", script.String("hacked"))
	if mustField(t, channel, "status").Str() != "routing" {
		t.Fatal("expected status to remain read-only")
	}
}
