// Package assistant implements the per-call channel-assistant state
// machine: one Assistant per live channel id, holding the shared
// routing script's compiled Code, a persistent Context+Channel binding
// for the call's whole lifetime, and its lifecycle state. It
// generalizes a one-struct-per-collaborator wiring style into one
// Assistant-per-channel wiring, the same way manager.Catalog
// generalizes it into one-entry-per-script.
package assistant

import (
	"sync"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/native"
	"github.com/two-barrels/scriptrt/script"
)

// State is the channel-assistant lifecycle state of:
// monotonically advanced except that Routing may additionally advance
// to ReRoute on any re-routing call.
type State int

const (
	NotStarted State = iota
	Routing
	ReRoute
	Ended
	Hangup
)

func (s State) String() string {
	switch s {
	case Routing:
		return "routing"
	case ReRoute:
		return "reroute"
	case Ended:
		return "ended"
	case Hangup:
		return "hangup"
	default:
		return "not-started"
	}
}

// Assistant is a per-call object, keyed by channel id:
// a persistent context+channel binding around the shared routing
// script's compiled Code, the lifecycle state, and the handled flag
// that msgRoute reports back to the host.
type Assistant struct {
	id     string
	bridge *native.Bridge
	code   *script.Code

	ctx     *script.Context
	channel *script.Object

	mu       sync.Mutex
	state    State
	handled  bool
	answered bool
	ringing  bool
	params   map[string]string

	liveMsg  script.Operation
	liveHost *messagebus.Message
	liveOK   bool
}

// New builds an Assistant for one call, installing its own Channel
// binding onto a freshly allocated single-instance Context: a per-call
// runner plus a message reference plus lifecycle state.
func New(id string, bridge *native.Bridge, code *script.Code) *Assistant {
	ctx := script.NewContext(bridge.RootPrototype(), 0, 1)
	a := &Assistant{id: id, bridge: bridge, code: code, ctx: ctx, params: make(map[string]string)}
	a.channel = bridge.InstallChannel(ctx, a)
	return a
}

// Context returns the assistant's persistent per-call context, for
// diagnostics via the "info"/"allocations" console commands.
func (a *Assistant) Context() *script.Context { return a.ctx }

// State reports the current lifecycle state.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Teardown releases the assistant's context and event worker at the end
// of the call.
func (a *Assistant) Teardown() {
	a.bridge.RemoveChannel(a.ctx)
	a.bridge.TeardownContext(a.ctx)
	a.ctx.Cleanup()
}

// --- native.ChannelHost ---

func (a *Assistant) ID() string { return a.id }

func (a *Assistant) Status() string { return a.State().String() }

func (a *Assistant) Answered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answered
}

func (a *Assistant) GetParam(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.params[name]
	return v, ok
}

func (a *Assistant) SetParam(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params[name] = value
}

func (a *Assistant) Answer() bool {
	a.mu.Lock()
	a.answered = true
	a.mu.Unlock()
	return true
}

func (a *Assistant) Ringing() bool {
	a.mu.Lock()
	a.ringing = true
	a.mu.Unlock()
	return true
}

// Message returns the live, non-frozen message binding the routing body
// is currently running against, or ok=false outside a routing run.
func (a *Assistant) Message() (script.Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveMsg, a.liveOK
}

// CallTo implements Channel.callTo: sets retValue, marks the call
// handled; the routing answer reaches the host via the HandleRoute
// caller observing the handled flag once the user function returns.
// RunFunction runs synchronously to completion, so there is no
// separate pause step: the flag is simply checked on return.
func (a *Assistant) CallTo(target string, params map[string]string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.liveOK || a.liveHost == nil {
		return false
	}
	a.liveHost.RetValue = target
	for k, v := range params {
		a.liveHost.SetParam(k, v)
	}
	a.handled = true
	return true
}

// CallJust implements Channel.callJust: like CallTo, but also
// terminates the script (state -> Ended).
func (a *Assistant) CallJust(target string, params map[string]string) bool {
	if !a.CallTo(target, params) {
		return false
	}
	a.mu.Lock()
	a.state = Ended
	a.mu.Unlock()
	return true
}

// Hangup implements Channel.hangup(reason, params, peer): stamps the
// live message with the reason, enqueues call.drop for self or peer,
// and ends the script.
func (a *Assistant) Hangup(reason string, params map[string]string, peer string) bool {
	target := peer
	if target == "" {
		target = a.id
	}

	a.mu.Lock()
	if a.liveHost != nil {
		a.liveHost.SetParam("reason", reason)
		for k, v := range params {
			a.liveHost.SetParam(k, v)
		}
	}
	a.state = Ended
	a.mu.Unlock()

	drop := messagebus.NewMessage("call.drop", false, map[string]string{"id": target, "reason": reason})
	for k, v := range params {
		drop.SetParam(k, v)
	}
	a.dispatchAsync(drop)
	return true
}

// dispatchAsync hands msg off to the wired transport (if any) or the
// in-process dispatcher, mirroring native's own enqueueMessage fallback.
func (a *Assistant) dispatchAsync(msg *messagebus.Message) {
	if a.bridge.Bus != nil {
		go func() { _ = a.bridge.Bus.Publish(msg.Name, msg) }()
		return
	}
	go func() {
		handled := a.bridge.Dispatcher.Dispatch(msg, a.bridge.BuildMessageOperation)
		msg.SetHandled(handled)
	}()
}

// --- Lifecycle dispatch ---

func boolPtr(b bool) *bool { return &b }

// invoke runs the named optional lifecycle callback in a fresh runner
// bound to the assistant's persistent context, receiving a message
// binding frozen iff the callback is not expected to mutate it, and
// appending the current handled flag as a second argument when
// handledArg is non-nil. An undefined callback is not an error:
// ran=false and the caller falls back to its own default.
func (a *Assistant) invoke(fn string, msg *messagebus.Message, frozen bool, handledArg *bool) (result bool, ran bool, err error) {
	msgOp := a.bridge.BuildMessageOperation(msg)
	if frozen {
		if obj := msgOp.Object(); obj != nil {
			obj.Freeze()
		}
	}

	info := script.NewInfo(script.InfoRoute, fn)
	runner := a.code.NewRunner(a.ctx, info)
	runner.SetTraceID(msg.TraceID)

	args := []script.Operation{msgOp}
	if handledArg != nil {
		args = append(args, script.Bool(*handledArg))
	}

	runner.Execute()
	res, ok, rerr := runner.RunFunction(fn, args)
	if rerr != nil || runner.Status() == script.Failed {
		return false, ok, rerr
	}
	if !ok {
		return false, false, nil
	}
	return res.Boolean(), true, nil
}

// HandleStartup dispatches chan.startup to onStartup.
func (a *Assistant) HandleStartup(msg *messagebus.Message) {
	_, _, _ = a.invoke("onStartup", msg, true, nil)
}

// HandleHangup dispatches chan.hangup to onHangup and advances the
// lifecycle state to Hangup.
func (a *Assistant) HandleHangup(msg *messagebus.Message) {
	a.mu.Lock()
	a.state = Hangup
	a.mu.Unlock()
	_, _, _ = a.invoke("onHangup", msg, true, nil)
}

// HandleExecute dispatches call.execute to onExecute.
func (a *Assistant) HandleExecute(msg *messagebus.Message) {
	_, _, _ = a.invoke("onExecute", msg, true, nil)
}

// HandleRinging dispatches call.ringing to onRinging; msgRinging
// returns the boolean result of the user callback to the engine.
func (a *Assistant) HandleRinging(msg *messagebus.Message) bool {
	res, _, _ := a.invoke("onRinging", msg, true, boolPtr(a.Handled()))
	return res
}

// HandleAnswered dispatches call.answered to onAnswered.
func (a *Assistant) HandleAnswered(msg *messagebus.Message) bool {
	a.mu.Lock()
	a.answered = true
	a.mu.Unlock()
	res, _, _ := a.invoke("onAnswered", msg, true, boolPtr(a.Handled()))
	return res
}

// HandlePreroute dispatches call.preroute to onPreroute.
func (a *Assistant) HandlePreroute(msg *messagebus.Message) bool {
	res, _, _ := a.invoke("onPreroute", msg, true, boolPtr(a.Handled()))
	return res
}

// HandleDisconnected dispatches chan.disconnected to onDisconnected; if
// undefined or it returns false, and the call is still mid-routing, the
// disconnect re-enters the routing path as a ReRoute.
func (a *Assistant) HandleDisconnected(msg *messagebus.Message) bool {
	res, ran, _ := a.invoke("onDisconnected", msg, true, boolPtr(a.Handled()))
	if ran && res {
		return true
	}
	a.mu.Lock()
	canReroute := a.state == Routing || a.state == ReRoute
	a.mu.Unlock()
	if canReroute {
		return a.HandleRoute(msg)
	}
	return res
}

// HandleRoute runs the main routing script body with a live, non-frozen
// message attached as Channel.message, and returns true iff the script
// set the handled flag during this run via Channel.callTo/callJust.
func (a *Assistant) HandleRoute(msg *messagebus.Message) bool {
	a.mu.Lock()
	switch a.state {
	case NotStarted:
		a.state = Routing
	case Routing, ReRoute:
		a.state = ReRoute
	default:
		// Ended/Hangup: the state machine is monotone past termination;
		// a late call.route is a no-op.
		a.mu.Unlock()
		return false
	}
	a.handled = false
	msgOp := a.bridge.BuildMessageOperation(msg)
	a.liveMsg = msgOp
	a.liveHost = msg
	a.liveOK = true
	a.mu.Unlock()

	info := script.NewInfo(script.InfoRoute, "onRoute")
	runner := a.code.NewRunner(a.ctx, info)
	runner.SetTraceID(msg.TraceID)
	runner.Execute()
	_, _, err := runner.RunFunction("onRoute", []script.Operation{msgOp})

	a.mu.Lock()
	handled := a.handled
	a.liveOK = false
	a.mu.Unlock()

	if err != nil || runner.Status() == script.Failed {
		return false
	}
	return handled
}

// PostExecute implements msgPostExecute: invoked by the module-level
// post-hook once the engine reports call.execute handled/unhandled.
func (a *Assistant) PostExecute(msg *messagebus.Message, handled bool) {
	_, _, _ = a.invoke("onPostExecute", msg, true, boolPtr(handled))
}

// Handled reports the current handled flag, for the lifecycle callbacks
// that receive it as their second argument.
func (a *Assistant) Handled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handled
}
