package messagebus

import (
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid"
	"github.com/two-barrels/scriptrt/script"
)

// Kind discriminates a handle's role on the bus.
type Kind int

const (
	KindHandler Kind = iota
	KindPostHook
)

// Variant discriminates the three installation shapes.
type Variant int

const (
	// VariantRegular is installed from a running script, invoked inside
	// the owning script's own live context.
	VariantRegular Variant = iota
	// VariantGlobalSingleton is loaded from configuration; each delivery
	// creates a fresh runner in a newly parsed script.
	VariantGlobalSingleton
	// VariantScriptSingleton is installed at runtime via
	// Message.installSingleton; loaded from a file but bound to a live
	// caller's context for lookups.
	VariantScriptSingleton
)

const defaultHandlerPriority = 100

// Handle is the unified message-bus handle of: a user-
// installed message handler or post-hook.
type Handle struct {
	ID ulid.ULID

	Kind    Kind
	Variant Variant

	MsgName string // handlers: the subscribed message type
	NameFilter  *Filter // handlers: the value filter; post-hooks also use this as the param filter
	MsgNameFilter *Filter // post-hooks only: the message-name matcher

	InstallationID string

	Context *script.Context // nilable: singleton variants load a fresh one per delivery
	Code    *script.Code    // nilable for singletons loaded straight from config until first use

	CallbackFuncName string
	HandlerContext   string
	TrackLabel       string

	Priority int // handlers only
	Handled  Tri // post-hooks only

	mu     sync.Mutex
	inUse  bool

	// newContext builds a fresh context for singleton variants; nil for
	// VariantRegular, which always reuses Context.
	newContext func() (*script.Context, *script.Code, error)
}

// NewRegularHandler builds a per-script handler handle.
func NewRegularHandler(id ulid.ULID, ctx *script.Context, code *script.Code, funcName string, priority int, msgName string, filter *Filter) *Handle {
	if priority == 0 {
		priority = defaultHandlerPriority
	}
	return &Handle{
		ID: id, Kind: KindHandler, Variant: VariantRegular,
		MsgName: msgName, NameFilter: filter, Context: ctx, Code: code,
		CallbackFuncName: funcName, Priority: priority,
	}
}

// NewRegularPostHook builds a per-script post-hook handle. If msgFilter
// is nil, the default "everything except engine.timer" matcher is used.
func NewRegularPostHook(id ulid.ULID, ctx *script.Context, code *script.Code, funcName string, filter, msgFilter *Filter, handled Tri) *Handle {
	if msgFilter == nil {
		msgFilter = DefaultPostHookNameFilter()
	}
	return &Handle{
		ID: id, Kind: KindPostHook, Variant: VariantRegular,
		NameFilter: filter, MsgNameFilter: msgFilter, Context: ctx, Code: code,
		CallbackFuncName: funcName, Handled: handled,
	}
}

// NewSingletonHandler builds a global- or script-singleton handler whose
// runner is recreated fresh for each delivery via newContext.
func NewSingletonHandler(id ulid.ULID, variant Variant, funcName string, priority int, msgName string, filter *Filter, newContext func() (*script.Context, *script.Code, error)) *Handle {
	if priority == 0 {
		priority = defaultHandlerPriority
	}
	return &Handle{
		ID: id, Kind: KindHandler, Variant: variant,
		MsgName: msgName, NameFilter: filter, CallbackFuncName: funcName, Priority: priority,
		newContext: newContext,
	}
}

// MarkInUse / InUse / MarkNotInUse implement the mark-and-sweep
// bookkeeping of, tracked per-handle so the global script
// manager's reload sweep can uninstall anything left unmarked.
func (h *Handle) MarkInUse() {
	h.mu.Lock()
	h.inUse = true
	h.mu.Unlock()
}

func (h *Handle) MarkNotInUse() {
	h.mu.Lock()
	h.inUse = false
	h.mu.Unlock()
}

func (h *Handle) InUse() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// CanonicalKey joins the handle's identity-defining fields with a
// non-colliding separator so reload can dedupe identical descriptors.
func (h *Handle) CanonicalKey() string {
	var b strings.Builder
	const sep = "\x1f"
	parts := []string{
		strconv.Itoa(int(h.Kind)),
		h.CallbackFuncName,
		strconv.Itoa(h.Priority),
		h.TrackLabel,
		h.HandlerContext,
		h.MsgName,
	}
	if h.Code != nil {
		parts = append(parts, h.Code.File)
	}
	b.WriteString(strings.Join(parts, sep))
	return b.String()
}

// TrackName composes the installed tracking name: trackName, optionally
// suffixed with ":<priority>" for handlers.
func (h *Handle) TrackName() string {
	if h.TrackLabel == "" {
		return ""
	}
	if h.Kind == KindHandler {
		return h.TrackLabel + ":" + strconv.Itoa(h.Priority)
	}
	return h.TrackLabel
}

// resolveRunner builds (or reuses) the context+code pair this delivery
// should run against, per the handle's Variant.
func (h *Handle) resolveRunner(info *script.Info) (*script.Runner, error) {
	switch h.Variant {
	case VariantRegular:
		return h.Code.NewRunner(h.Context, info), nil
	default:
		ctx, code, err := h.newContext()
		if err != nil {
			return nil, err
		}
		return code.NewRunner(ctx, info), nil
	}
}

// Invoke runs the handle's callback against msg. msgOp is the
// already-constructed Message script binding (built by the native
// bridge, which owns the mapping
// from *Message to a script.Operation); messagebus only orchestrates
// filter matching and runner lifecycle, keeping it independent of the
// native-bridge package. handled is consulted only for post-hooks (the
// dispatch outcome being reported) and ignored for handlers, which
// produce the outcome rather than consume it. shuttingDown short-circuits
// every invocation to false, per "Shutdown".
func (h *Handle) Invoke(msg *Message, msgOp script.Operation, handled bool, shuttingDown bool) bool {
	if shuttingDown {
		return false
	}
	if h.Kind == KindPostHook {
		if !h.Handled.Matches(handled) && !msg.Broadcast {
			// Non-broadcast messages honour the handled-filter; broadcast
			// messages always run regardless.
			return false
		}
		if h.MsgNameFilter != nil && !h.MsgNameFilter.Match(msg) {
			return false
		}
	} else if h.MsgName != "" && msg.Name != h.MsgName {
		return false
	}
	if h.NameFilter != nil && !h.NameFilter.Match(msg) {
		return false
	}

	info := script.NewInfo(script.InfoMsgHandler, h.CallbackFuncName)
	runner, err := h.resolveRunner(info)
	if err != nil {
		return false
	}
	runner.SetTraceID(msg.TraceID)

	var args []script.Operation
	if h.Kind == KindHandler {
		args = []script.Operation{msgOp, script.Bool(handled)}
	} else {
		args = []script.Operation{msgOp, script.Bool(handled), script.String(h.HandlerContext)}
	}
	result, ok, err := runner.RunFunction(h.CallbackFuncName, args)
	if err != nil || runner.Status() == script.Failed {
		return false
	}
	if h.Kind == KindPostHook {
		return false // post-hook return values are ignored
	}
	if !ok {
		return false
	}
	return result.Boolean()
}
