package native

import (
	"sync"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/script"
)

// nativeMessage is the NativeParams binding behind a script Message
// object. It is either a view on a live host messagebus.Message
// ("owned" tracking whether this binding may dispatch it away) or
// detached, in which case every mutating or dispatching operation must
// reject rather than crash.
type nativeMessage struct {
	mu     sync.Mutex
	msg    *messagebus.Message
	name   string // survives detach: "reading the name" always works
	owned  bool
	bridge *Bridge
	obj    *script.Object // set once, after construction, for Frozen() checks
}

func (n *nativeMessage) Get(name string) (script.Operation, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch name {
	case "name":
		return script.String(n.name), true
	case "broadcast":
		if n.msg == nil {
			return script.Bool(false), true
		}
		return script.Bool(n.msg.Broadcast), true
	case "retValue":
		if n.msg == nil {
			return script.String(""), true
		}
		return script.String(n.msg.RetValue), true
	case "msgTime":
		if n.msg == nil {
			return script.Int(0), true
		}
		return script.Int(n.msg.MsgTime.UnixMilli()), true
	case "msgAge":
		if n.msg == nil {
			return script.Int(0), true
		}
		return script.Int(n.msg.Age().Milliseconds()), true
	default:
		return script.Operation{}, false
	}
}

func (n *nativeMessage) Set(name string, val script.Operation) bool {
	if name != "retValue" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msg == nil {
		return false
	}
	n.msg.RetValue = val.Str()
	return true
}

func (n *nativeMessage) detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msg = nil
	n.owned = false
}

func (n *nativeMessage) live() (*messagebus.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.msg, n.msg != nil
}

// nativeMessageOf recovers the nativeMessage binding from an Operation
// wrapping a Message object, if any.
func nativeMessageOf(op script.Operation) (*nativeMessage, bool) {
	obj := op.Object()
	if obj == nil {
		return nil, false
	}
	nm, ok := obj.NativeParamsOf().(*nativeMessage)
	return nm, ok
}

// buildMessageOperation wraps an existing host message in a fresh,
// non-owned script binding — used both for Message.new and for the
// per-handler Operation that Dispatcher.Dispatch builds for every
// installed handle (messagebus.Dispatcher's build callback).
func (b *Bridge) buildMessageOperation(msg *messagebus.Message) script.Operation {
	return b.newMessageBinding(msg, false)
}

// BuildMessageOperation is the exported form of buildMessageOperation,
// for collaborators outside this package (the channel-assistant state
// machine) that need to bind a host message to a fresh Message object
// without owning it.
func (b *Bridge) BuildMessageOperation(msg *messagebus.Message) script.Operation {
	return b.buildMessageOperation(msg)
}

func (b *Bridge) newMessageBinding(msg *messagebus.Message, owned bool) script.Operation {
	nm := &nativeMessage{msg: msg, name: msg.Name, owned: owned, bridge: b}
	obj := script.NewObject(nil)
	nm.obj = obj
	obj.SetNativeParams(nm)

	obj.Assign("getParam", nativeFunc("getParam", 1, 2, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok {
			return argOr(args, 1, script.Null()), nil
		}
		v, found := msg.GetParam(args[0].Str())
		if !found {
			return argOr(args, 1, script.Null()), nil
		}
		return script.String(v), nil
	}))
	obj.Assign("setParam", nativeFunc("setParam", 2, 2, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok {
			return script.Bool(false), nil
		}
		msg.SetParam(args[0].Str(), args[1].Str())
		return script.Bool(true), nil
	}))
	obj.Assign("clearParam", nativeFunc("clearParam", 1, 1, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok {
			return script.Bool(false), nil
		}
		msg.ClearParam(args[0].Str())
		return script.Bool(true), nil
	}))
	obj.Assign("copyParams", nativeFunc("copyParams", 0, 0, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok {
			return script.Obj(script.NewObject(nil)), nil
		}
		out := script.NewObject(nil)
		for k, v := range msg.CopyParams() {
			out.Assign(k, script.String(v))
		}
		return script.Obj(out), nil
	}))

	obj.Assign("getColumn", nativeFunc("getColumn", 0, 1, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok || msg.UserData == nil {
			return script.Null(), nil
		}
		return getColumn(msg.UserData, argOr(args, 0, script.Undefined())), nil
	}))
	obj.Assign("getRow", nativeFunc("getRow", 0, 1, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok || msg.UserData == nil {
			return script.Null(), nil
		}
		return getRow(msg.UserData, argOr(args, 0, script.Undefined())), nil
	}))
	obj.Assign("getResult", nativeFunc("getResult", 2, 2, func(args []script.Operation) (script.Operation, error) {
		msg, ok := nm.live()
		if !ok || msg.UserData == nil {
			return script.Null(), nil
		}
		row, _ := args[0].Int64()
		col, _ := args[1].Int64()
		v, present := msg.UserData.Cell(int(row), int(col))
		if !present {
			return script.Null(), nil
		}
		return script.String(v), nil
	}))

	obj.Assign("enqueue", nativeFunc("enqueue", 0, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(b.enqueueMessage(nm, obj)), nil
	}))
	obj.Assign("dispatch", nativeFuncCtx("dispatch", 0, 1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		if obj.Frozen() {
			return script.Bool(false), nil
		}
		return b.dispatchEngine(r, prependMessage(args, script.Obj(obj)))
	}))
	obj.Assign("trace", nativeFunc("trace", 1, -1, func(args []script.Operation) (script.Operation, error) {
		return b.traceMessage(nm, args), nil
	}))

	return script.Obj(obj)
}

func prependMessage(args []script.Operation, msgOp script.Operation) []script.Operation {
	out := make([]script.Operation, 0, len(args)+1)
	out = append(out, msgOp)
	out = append(out, args...)
	return out
}

// enqueueMessage implements "enqueue": a frozen or detached
// message always fails (B2); an owned message hands off for asynchronous
// delivery and detaches immediately, without waiting for a result. If a
// bus transport is wired in, delivery goes out over it (cross-process);
// otherwise it falls back to the in-process dispatcher on its own
// goroutine.
func (b *Bridge) enqueueMessage(nm *nativeMessage, obj *script.Object) bool {
	if obj.Frozen() {
		return false
	}
	nm.mu.Lock()
	msg, owned := nm.msg, nm.owned
	nm.mu.Unlock()
	if msg == nil || !owned {
		return false
	}
	nm.detach()
	if b.Bus != nil {
		go func() {
			_ = b.Bus.Publish(msg.Name, msg)
		}()
		return true
	}
	go func() {
		handled := b.Dispatcher.Dispatch(msg, b.buildMessageOperation)
		msg.SetHandled(handled)
	}()
	return true
}

func getColumn(t *messagebus.Table, arg script.Operation) script.Operation {
	if arg.IsMissing() {
		out := script.NewObject(nil)
		for ci, name := range t.Columns {
			col := script.NewArray(nil)
			for ri := range t.Rows {
				if v, ok := t.Cell(ri, ci); ok {
					col.Push(script.String(v))
				} else {
					col.Push(script.Null())
				}
			}
			out.Assign(name, script.Obj(col))
		}
		return script.Obj(out)
	}
	idx, ok := resolveColumn(t, arg)
	if !ok {
		return script.Null()
	}
	col := script.NewArray(nil)
	for ri := range t.Rows {
		if v, present := t.Cell(ri, idx); present {
			col.Push(script.String(v))
		} else {
			col.Push(script.Null())
		}
	}
	return script.Obj(col)
}

func getRow(t *messagebus.Table, arg script.Operation) script.Operation {
	if arg.IsMissing() {
		out := script.NewArray(nil)
		for ri := range t.Rows {
			out.Push(rowObject(t, ri))
		}
		return script.Obj(out)
	}
	ri, ok := arg.Int64()
	if !ok || ri < 0 || int(ri) >= len(t.Rows) {
		return script.Null()
	}
	return rowObject(t, int(ri))
}

func rowObject(t *messagebus.Table, ri int) script.Operation {
	out := script.NewObject(nil)
	for ci, name := range t.Columns {
		if v, ok := t.Cell(ri, ci); ok {
			out.Assign(name, script.String(v))
		} else {
			out.Assign(name, script.Null())
		}
	}
	return script.Obj(out)
}

func resolveColumn(t *messagebus.Table, arg script.Operation) (int, bool) {
	if arg.Kind == script.KindString {
		return t.ColumnIndex(arg.Str())
	}
	n, ok := arg.Int64()
	if !ok || n < 0 || int(n) >= len(t.Columns) {
		return 0, false
	}
	return int(n), true
}

// traceMessage implements "trace": emits a structured
// log record under the message's trace id and, if trace_to_msg is set,
// appends a trace_msg_<N> parameter to the message.
func (b *Bridge) traceMessage(nm *nativeMessage, args []script.Operation) script.Operation {
	ret := args[0]
	level := int64(0)
	var text []string
	if len(args) > 1 {
		if n, ok := args[1].Int64(); ok {
			level = n
			for _, a := range args[2:] {
				text = append(text, a.Str())
			}
		} else {
			text = append(text, args[1].Str())
			for _, a := range args[2:] {
				text = append(text, a.Str())
			}
		}
	}
	line := joinSpace(text)
	msg, ok := nm.live()
	if ok {
		if b.AllowTrace {
			b.Log.Debug(line, "trace_id", msg.TraceID, "level", level)
		}
		msg.AppendTrace(line)
	}
	if ret.IsUndefined() {
		return script.Undefined()
	}
	return ret
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// buildMessageClass builds the "Message" top-level object: a
// constructor-like factory plus the static
// install/installPostHook/installHook/installSingleton/uninstall
// surface for registering handlers and post-hooks.
func (b *Bridge) buildMessageClass() *script.Object {
	cls := script.NewObject(nil)

	cls.Assign("new", nativeFuncCtx("new", 1, 3, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		name := args[0].Str()
		broadcast := argOr(args, 1, script.Bool(false)).Boolean()
		params := map[string]string{}
		if len(args) > 2 {
			if obj := args[2].Object(); obj != nil {
				for _, k := range obj.OwnNames() {
					if len(k) >= 2 && k[0] == '_' && k[1] == '_' {
						continue
					}
					v, _ := obj.GetField(k)
					if v.Kind == script.KindFunc {
						continue
					}
					params[k] = v.Str()
				}
			}
		}
		msg := messagebus.NewMessage(name, broadcast, params)
		msg.TraceID = r.TraceID()
		binding := b.newMessageBinding(msg, true)
		nm, _ := nativeMessageOf(binding)
		nm.owned = true
		return binding, nil
	}))

	cls.Assign("install", nativeFuncCtx("install", 2, 6, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.installRegular(r, args, messagebus.KindHandler)
	}))
	cls.Assign("installPostHook", nativeFuncCtx("installPostHook", 2, 6, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.installRegular(r, args, messagebus.KindPostHook)
	}))
	cls.Assign("installSingleton", nativeFuncCtx("installSingleton", 3, 5, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.installSingleton(r, args)
	}))
	cls.Assign("installHook", nativeFuncCtx("installHook", 2, 5, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.installHook(r, args)
	}))
	cls.Assign("uninstall", nativeFunc("uninstall", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(b.uninstallByTrackName(args[0].Str())), nil
	}))

	return cls
}

// installRegular implements Message.install/installPostHook. Both take
// the callback first; the remaining positional arguments differ by kind:
//
//	install(fn, msgName[, priority[, filterParamName, filterParamValue[, track]]])
//	installPostHook(fn, id[, filterMsgName[, filterParamName, filterParamValue[, params]]])
//
// install's msgName restricts delivery to messages of that type directly.
// installPostHook has no priority (post-hooks run after dispatch, in
// installation order) and instead takes id for tracking/dedup plus an
// optional filterMsgName matcher; its trailing params object's "handled"
// field selects whether the hook only fires for a handled or unhandled
// dispatch outcome (absent means either).
func (b *Bridge) installRegular(r *script.Runner, args []script.Operation, kind messagebus.Kind) (script.Operation, error) {
	fn := args[0].Function()
	if fn == nil {
		return script.Bool(false), nil
	}
	funcName := fn.Name
	id := newULID()

	if kind == messagebus.KindHandler {
		msgName := args[1].Str()
		priority := 0
		if len(args) > 2 {
			if n, ok := args[2].Int64(); ok {
				priority = int(n)
			}
		}
		var filter *messagebus.Filter
		if len(args) > 4 && args[3].IsFilled() {
			filter = messagebus.NewStringFilter(args[3].Str(), args[4].Str(), true, false)
		}
		track := ""
		if len(args) > 5 && args[5].IsFilled() {
			track = args[5].Str()
		}
		h := messagebus.NewRegularHandler(id, r.Context(), r.Code(), funcName, priority, msgName, filter)
		h.TrackLabel = track
		b.Dispatcher.Install(h)
		h.MarkInUse()
		b.track(h)
		return script.Bool(true), nil
	}

	track := args[1].Str()
	var msgFilter *messagebus.Filter
	if len(args) > 2 && args[2].IsFilled() {
		msgFilter = messagebus.NewStringFilter("name", args[2].Str(), true, false)
	}
	var filter *messagebus.Filter
	if len(args) > 4 && args[3].IsFilled() {
		filter = messagebus.NewStringFilter(args[3].Str(), args[4].Str(), true, false)
	}
	handled := messagebus.TriAny
	if len(args) > 5 {
		if obj := args[5].Object(); obj != nil {
			if v, ok := obj.GetField("handled"); ok {
				if v.Boolean() {
					handled = messagebus.TriTrue
				} else {
					handled = messagebus.TriFalse
				}
			}
		}
	}
	h := messagebus.NewRegularPostHook(id, r.Context(), r.Code(), funcName, filter, msgFilter, handled)
	h.TrackLabel = track
	b.Dispatcher.Install(h)
	h.MarkInUse()
	b.track(h)
	return script.Bool(true), nil
}

// installSingleton implements Message.installSingleton(file, msgName,
// funcName[, priority[, track]]): a global-singleton handler whose
// runner is parsed fresh from file for every delivery.
func (b *Bridge) installSingleton(r *script.Runner, args []script.Operation) (script.Operation, error) {
	if b.Loader == nil {
		return script.Bool(false), nil
	}
	file := args[0].Str()
	msgName := args[1].Str()
	funcName := args[2].Str()
	priority := 0
	if len(args) > 3 {
		if n, ok := args[3].Int64(); ok {
			priority = int(n)
		}
	}
	track := ""
	if len(args) > 4 && args[4].IsFilled() {
		track = args[4].Str()
	}
	id := newULID()
	h := messagebus.NewSingletonHandler(id, messagebus.VariantScriptSingleton, funcName, priority, msgName, nil, func() (*script.Context, *script.Code, error) {
		return b.Loader(file)
	})
	h.TrackLabel = track
	b.Dispatcher.Install(h)
	h.MarkInUse()
	b.track(h)
	return script.Bool(true), nil
}

func (b *Bridge) installHook(r *script.Runner, args []script.Operation) (script.Operation, error) {
	fn := args[0].Function()
	if fn == nil {
		return script.Bool(false), nil
	}
	name := args[1].Str()
	threads := 1
	if len(args) > 2 {
		if n, ok := args[2].Int64(); ok && n > 0 {
			threads = int(n)
		}
	}
	var trap func()
	if len(args) > 3 {
		if tf := args[3].Function(); tf != nil {
			ctx := r.Context()
			trap = func() {
				if ctx.Terminated() {
					return
				}
				ctx.Mu.Lock()
				defer ctx.Mu.Unlock()
				if tf.Native != nil {
					_, _ = tf.Native(nil)
				}
			}
		}
	}
	trapLaunch := 0
	if len(args) > 4 {
		if n, ok := args[4].Int64(); ok {
			trapLaunch = int(n)
		}
	}
	ctx := r.Context()
	received := func(msg *messagebus.Message) {
		if ctx.Terminated() {
			return
		}
		ctx.Mu.Lock()
		defer ctx.Mu.Unlock()
		if fn.Native != nil {
			_, _ = fn.Native([]script.Operation{b.buildMessageOperation(msg)})
		}
	}
	hook := messagebus.NewQueueHook(name, nil, threads, received, trap, trapLaunch)
	b.mu.Lock()
	if b.hooks == nil {
		b.hooks = make(map[string]*messagebus.QueueHook)
	}
	b.hooks[name] = hook
	b.mu.Unlock()
	return script.Bool(true), nil
}

// track records h under its TrackName (if any) for Message.uninstall.
func (b *Bridge) track(h *messagebus.Handle) {
	name := h.TrackName()
	if name == "" {
		return
	}
	b.mu.Lock()
	if b.tracked == nil {
		b.tracked = make(map[string]*messagebus.Handle)
	}
	b.tracked[name] = h
	b.mu.Unlock()
}

func (b *Bridge) uninstallByTrackName(name string) bool {
	b.mu.Lock()
	h, ok := b.tracked[name]
	if ok {
		delete(b.tracked, name)
	}
	b.mu.Unlock()
	if ok {
		return b.Dispatcher.Uninstall(h.ID)
	}
	if hook, ok := b.hookByName(name); ok {
		hook.Uninstall()
		return true
	}
	return false
}

func (b *Bridge) hookByName(name string) (*messagebus.QueueHook, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hooks[name]
	return h, ok
}
