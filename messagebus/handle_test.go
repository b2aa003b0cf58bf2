package messagebus

import (
	"testing"

	"github.com/oklog/ulid"
	"github.com/two-barrels/scriptrt/script"
)

func newTestID(t *testing.T) ulid.ULID {
	t.Helper()
	id, err := ulid.New(1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id
}

func TestHandlerInvokeAppliesFilterAndReturnsBool(t *testing.T) {
	ctx := script.NewContext(nil, 0, 1)
	code := script.NewBuilder("h.js").
		DefineFunc("onX", []string{"m"}, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(true), nil
		}).
		Build()
	// Seed the globals the way Code.NewRunner would on creation.
	ctxRunner := code.NewRunner(ctx, script.NewInfo(script.InfoMsgHandler, "onX"))
	_ = ctxRunner

	h := NewRegularHandler(newTestID(t), ctx, code, "onX", 50, "", NewStringFilter("name", "x.test", true, false))

	msg := NewMessage("x.test", false, nil)
	if got := h.Invoke(msg, script.Obj(nil), false, false); !got {
		t.Fatal("expected handler to return true")
	}

	wrongName := NewMessage("y.other", false, nil)
	if got := h.Invoke(wrongName, script.Obj(nil), false, false); got {
		t.Fatal("handler must not fire for a non-matching filter")
	}
}

func TestHandleShutdownShortCircuits(t *testing.T) {
	ctx := script.NewContext(nil, 0, 1)
	code := script.NewBuilder("h.js").
		DefineFunc("onX", nil, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(true), nil
		}).
		Build()
	code.NewRunner(ctx, script.NewInfo(script.InfoMsgHandler, "onX"))

	h := NewRegularHandler(newTestID(t), ctx, code, "onX", 50, "", nil)
	msg := NewMessage("x.test", false, nil)
	if got := h.Invoke(msg, script.Obj(nil), false, true); got {
		t.Fatal("shutting-down invocation must short-circuit to false")
	}
}

func TestPostHookHandledFilter(t *testing.T) {
	// S7: installPostHook with handled:true only fires for a handled message.
	ctx := script.NewContext(nil, 0, 1)
	called := false
	code := script.NewBuilder("ph.js").
		DefineFunc("h1", nil, func(args []script.Operation) (script.Operation, error) {
			called = true
			return script.Undefined(), nil
		}).
		Build()
	code.NewRunner(ctx, script.NewInfo(script.InfoMsgHandler, "h1"))

	h := NewRegularPostHook(newTestID(t), ctx, code, "h1", nil, nil, TriTrue)

	msg := NewMessage("call.route", false, nil)
	h.Invoke(msg, script.Obj(nil), false, false)
	if called {
		t.Fatal("post-hook filtered on handled=true must not fire for handled=false")
	}

	h.Invoke(msg, script.Obj(nil), true, false)
	if !called {
		t.Fatal("post-hook filtered on handled=true must fire for handled=true")
	}
}
