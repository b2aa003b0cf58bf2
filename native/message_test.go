package native

import (
	"testing"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/script"
)

func TestMessageBindingExposesCoreFields(t *testing.T) {
	b := newTestBridge("engine-1")
	msg := messagebus.NewMessage("call.route", true, map[string]string{"id": "chan/1"})
	msg.RetValue = "pending"

	op := b.buildMessageOperation(msg)
	binding := op.Object()
	if binding == nil {
		t.Fatal("expected a Message object")
	}
	if mustField(t, binding, "name").Str() != "call.route" {
		t.Fatal("expected name==call.route")
	}
	if !mustField(t, binding, "broadcast").Boolean() {
		t.Fatal("expected broadcast==true")
	}
	if mustField(t, binding, "retValue").Str() != "pending" {
		t.Fatal("expected retValue==pending")
	}
	if _, ok := binding.GetField("id"); ok {
		t.Fatal("expected params to not be directly exposed as fields (must use getParam)")
	}
}

func TestMessageGetSetClearCopyParam(t *testing.T) {
	b := newTestBridge("engine-1")
	msg := messagebus.NewMessage("call.route", false, map[string]string{"caller": "alice"})
	binding := b.buildMessageOperation(msg).Object()

	if v := callNative(t, binding, "getParam", script.String("caller")); v.Str() != "alice" {
		t.Fatalf("expected caller==alice, got %q", v.Str())
	}
	if v := callNative(t, binding, "getParam", script.String("missing"), script.String("fallback")); v.Str() != "fallback" {
		t.Fatalf("expected fallback for missing param, got %q", v.Str())
	}

	callNative(t, binding, "setParam", script.String("called"), script.String("100"))
	if v := callNative(t, binding, "getParam", script.String("called")); v.Str() != "100" {
		t.Fatal("expected setParam to be visible via getParam")
	}

	callNative(t, binding, "clearParam", script.String("called"))
	if v := callNative(t, binding, "getParam", script.String("called"), script.Null()); v.Kind != script.KindNull {
		t.Fatal("expected cleared param to be absent")
	}

	copied := callNative(t, binding, "copyParams").Object()
	if copied == nil {
		t.Fatal("expected copyParams to return an object")
	}
	if v, ok := copied.GetField("caller"); !ok || v.Str() != "alice" {
		t.Fatal("expected copyParams to include caller")
	}
}

func TestMessageRetValueIsTheOnlyWritableDirectField(t *testing.T) {
	b := newTestBridge("engine-1")
	msg := messagebus.NewMessage("call.route", false, nil)
	binding := b.buildMessageOperation(msg).Object()

	binding.Assign("name", script.String("hacked"))
	if mustField(t, binding, "name").Str() != "call.route" {
		t.Fatal("expected name to remain read-only")
	}
	binding.Assign("retValue", script.String("routed"))
	if msg.RetValue != "routed" {
		t.Fatal("expected assigning retValue to update the underlying host message")
	}
}

func TestDetachedMessageRefusesMutations(t *testing.T) {
	b := newTestBridge("engine-1")
	msg := messagebus.NewMessage("call.route", false, map[string]string{"a": "1"})
	binding := b.buildMessageOperation(msg).Object()
	nm, ok := nativeMessageOf(script.Obj(binding))
	if !ok {
		t.Fatal("expected to recover the native binding")
	}
	nm.detach()

	if v := callNative(t, binding, "getParam", script.String("a"), script.String("gone")); v.Str() != "gone" {
		t.Fatal("expected getParam to fall back to default once detached")
	}
	if callNative(t, binding, "setParam", script.String("a"), script.String("2")).Boolean() {
		t.Fatal("expected setParam to refuse once detached")
	}
	// Name still reads even though the underlying message is gone.
	if mustField(t, binding, "name").Str() != "call.route" {
		t.Fatal("expected name to survive detach")
	}
}

func TestMessageNewConstructsAnOwnedBinding(t *testing.T) {
	b := newTestBridge("engine-1")
	msgCls := mustField(t, b.RootPrototype(), "Message").Object()
	ctx, r := newTestRunner(b)
	defer b.TeardownContext(ctx)

	params := script.NewObject(nil)
	params.Assign("caller", script.String("bob"))

	newFn := mustField(t, msgCls, "new").Function()
	op, err := r.CallFunc(newFn, []script.Operation{script.String("custom.event"), script.Bool(false), script.Obj(params)})
	if err != nil {
		t.Fatalf("Message.new: %v", err)
	}
	binding := op.Object()
	if mustField(t, binding, "name").Str() != "custom.event" {
		t.Fatal("expected name to reflect the constructor argument")
	}
	if v := callNative(t, binding, "getParam", script.String("caller")); v.Str() != "bob" {
		t.Fatal("expected params object to seed the new message's params")
	}
}

func TestMessageEnqueueDetachesAndDeliversInProcess(t *testing.T) {
	b := newTestBridge("engine-1")
	msgCls := mustField(t, b.RootPrototype(), "Message").Object()
	ctx, r := newTestRunner(b)
	defer b.TeardownContext(ctx)

	newFn := mustField(t, msgCls, "new").Function()
	op, err := r.CallFunc(newFn, []script.Operation{script.String("custom.enqueued")})
	if err != nil {
		t.Fatalf("Message.new: %v", err)
	}
	binding := op.Object()

	if !callNative(t, binding, "enqueue").Boolean() {
		t.Fatal("expected enqueue to succeed on an owned, live message")
	}
	// A second enqueue must fail: the binding detaches immediately.
	if callNative(t, binding, "enqueue").Boolean() {
		t.Fatal("expected a second enqueue on the same binding to fail")
	}
}

func TestMessageInstallAndUninstallByTrackName(t *testing.T) {
	b := newTestBridge("engine-1")
	msgCls := mustField(t, b.RootPrototype(), "Message").Object()
	code := script.NewBuilder("handlers.js").
		DefineFunc("onRoute", []string{"msg"}, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(true), nil
		}).
		Build()
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	r := code.NewRunner(ctx, script.NewInfo(script.InfoStatic, "handlers"))

	installFn := mustField(t, msgCls, "install").Function()
	onRoute, _, _ := ctx.Get("onRoute")
	ok, err := r.CallFunc(installFn, []script.Operation{
		onRoute, script.String("call.route"), script.Int(50), script.Undefined(), script.Undefined(), script.String("myhandler"),
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !ok.Boolean() {
		t.Fatal("expected install to report success")
	}

	uninstallFn := mustField(t, msgCls, "uninstall").Function()
	res, err := r.CallFunc(uninstallFn, []script.Operation{script.String("myhandler")})
	if err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if !res.Boolean() {
		t.Fatal("expected uninstall to find and remove the tracked handler")
	}
	// Uninstalling again must report failure, not panic.
	res2, _ := r.CallFunc(uninstallFn, []script.Operation{script.String("myhandler")})
	if res2.Boolean() {
		t.Fatal("expected a second uninstall to report failure")
	}
}

// TestMessageInstallHandlerRunsOnDispatch exercises
// Message.install(fn, name, priority) end to end: fn must see the
// callback-first argument order, run against a live dispatch, set
// retValue, and have the dispatcher report the message handled.
func TestMessageInstallHandlerRunsOnDispatch(t *testing.T) {
	b := newTestBridge("engine-1")
	msgCls := mustField(t, b.RootPrototype(), "Message").Object()
	code := script.NewBuilder("handlers.js").
		DefineFunc("onRoute", []string{"msg"}, func(args []script.Operation) (script.Operation, error) {
			args[0].Object().Assign("retValue", script.String("ok"))
			return script.Bool(true), nil
		}).
		Build()
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	r := code.NewRunner(ctx, script.NewInfo(script.InfoStatic, "handlers"))

	installFn := mustField(t, msgCls, "install").Function()
	onRoute, _, _ := ctx.Get("onRoute")
	ok, err := r.CallFunc(installFn, []script.Operation{onRoute, script.String("x.test"), script.Int(50)})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !ok.Boolean() {
		t.Fatal("expected install to report success")
	}

	msg := messagebus.NewMessage("x.test", false, nil)
	handled := b.Dispatcher.Dispatch(msg, b.BuildMessageOperation)
	if !handled {
		t.Fatal("expected the installed handler to handle x.test")
	}
	if msg.RetValue != "ok" {
		t.Fatalf("expected retValue==ok, got %q", msg.RetValue)
	}
}

// TestMessageInstallPostHookHandledFilter exercises
// Message.installPostHook(fn, id, null, null, null, {handled:true}):
// fn must fire only for a handled dispatch, receiving the handled flag
// as its second argument.
func TestMessageInstallPostHookHandledFilter(t *testing.T) {
	b := newTestBridge("engine-1")
	msgCls := mustField(t, b.RootPrototype(), "Message").Object()

	var calls []bool
	code := script.NewBuilder("hooks.js").
		DefineFunc("onHandled", []string{"msg", "handled"}, func(args []script.Operation) (script.Operation, error) {
			calls = append(calls, args[1].Boolean())
			return script.Undefined(), nil
		}).
		DefineFunc("refuse", []string{"msg"}, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(false), nil
		}).
		DefineFunc("accept", []string{"msg"}, func(args []script.Operation) (script.Operation, error) {
			return script.Bool(true), nil
		}).
		Build()
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	r := code.NewRunner(ctx, script.NewInfo(script.InfoStatic, "hooks"))

	params := script.NewObjectWithProto(nil, nil)
	params.Assign("handled", script.Bool(true))

	installPostHookFn := mustField(t, msgCls, "installPostHook").Function()
	onHandled, _, _ := ctx.Get("onHandled")
	ok, err := r.CallFunc(installPostHookFn, []script.Operation{
		onHandled, script.String("h1"), script.Undefined(), script.Undefined(), script.Undefined(), script.Obj(params),
	})
	if err != nil {
		t.Fatalf("installPostHook: %v", err)
	}
	if !ok.Boolean() {
		t.Fatal("expected installPostHook to report success")
	}

	installFn := mustField(t, msgCls, "install").Function()
	refuse, _, _ := ctx.Get("refuse")
	if _, err := r.CallFunc(installFn, []script.Operation{refuse, script.String("test.refuse")}); err != nil {
		t.Fatalf("install refuse: %v", err)
	}
	accept, _, _ := ctx.Get("accept")
	if _, err := r.CallFunc(installFn, []script.Operation{accept, script.String("test.accept")}); err != nil {
		t.Fatalf("install accept: %v", err)
	}

	b.Dispatcher.Dispatch(messagebus.NewMessage("test.refuse", false, nil), b.BuildMessageOperation)
	if len(calls) != 0 {
		t.Fatalf("expected the handled-only post-hook to stay silent on an unhandled dispatch, got %v", calls)
	}

	b.Dispatcher.Dispatch(messagebus.NewMessage("test.accept", false, nil), b.BuildMessageOperation)
	if len(calls) != 1 || calls[0] != true {
		t.Fatalf("expected the post-hook to fire once with handled=true, got %v", calls)
	}
}

func TestMessageGetColumnGetRowGetResult(t *testing.T) {
	b := newTestBridge("engine-1")
	table := messagebus.NewTable([]string{"id", "name"}, 2)
	table.SetCell(0, 0, "1")
	table.SetCell(0, 1, "alice")
	table.SetCell(1, 0, "2")
	table.SetCell(1, 1, "bob")

	msg := messagebus.NewMessage("db.result", false, nil)
	msg.UserData = table
	binding := b.buildMessageOperation(msg).Object()

	col := callNative(t, binding, "getColumn", script.String("name")).Object()
	if col == nil || col.Len() != 2 {
		t.Fatalf("expected a 2-element name column, got %v", col)
	}
	v0, _ := col.GetField("0")
	if v0.Str() != "alice" {
		t.Fatalf("expected first name alice, got %q", v0.Str())
	}

	row := callNative(t, binding, "getRow", script.Int(1)).Object()
	if row == nil {
		t.Fatal("expected a row object")
	}
	if v, _ := row.GetField("name"); v.Str() != "bob" {
		t.Fatal("expected row 1's name to be bob")
	}

	cell := callNative(t, binding, "getResult", script.Int(0), script.Int(0))
	if cell.Str() != "1" {
		t.Fatalf("expected cell(0,0)==1, got %q", cell.Str())
	}
}

func TestMessageTraceAppendsAndReturnsPassthrough(t *testing.T) {
	b := newTestBridge("engine-1")
	b.AllowTrace = true
	msg := messagebus.NewMessage("call.route", false, nil)
	msg.TraceID = "trace-123"
	binding := b.buildMessageOperation(msg).Object()

	ret := callNative(t, binding, "trace", script.Bool(true), script.Int(1), script.String("hello"))
	if !ret.Boolean() {
		t.Fatal("expected trace to pass through its first argument")
	}
}
