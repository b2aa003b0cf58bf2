package native

import "github.com/two-barrels/scriptrt/script"

// ChannelHost is implemented by the channel-assistant package and
// supplies the live per-call state a script's "Channel" object reflects.
// native never imports assistant; assistant installs itself into a
// context via InstallChannel, keeping the dependency one-directional.
type ChannelHost interface {
	ID() string
	Status() string
	Answered() bool
	GetParam(name string) (string, bool)
	SetParam(name, value string)
	Answer() bool
	Ringing() bool

	// Message returns the live, non-frozen message binding the routing
	// body is currently running against, or ok=false outside a routing
	// run.
	Message() (script.Operation, bool)

	// CallTo/CallJust implement Channel.callTo/callJust: set retValue on
	// the live message to target, mark it handled, and (CallJust only)
	// terminate the script.
	CallTo(target string, params map[string]string) bool
	CallJust(target string, params map[string]string) bool

	// Hangup implements Channel.hangup(reason, params, peer): peer==""
	// targets the channel itself.
	Hangup(reason string, params map[string]string, peer string) bool
}

type nativeChannel struct {
	host ChannelHost
}

func (n *nativeChannel) Get(name string) (script.Operation, bool) {
	switch name {
	case "id":
		return script.String(n.host.ID()), true
	case "status":
		return script.String(n.host.Status()), true
	case "answered":
		return script.Bool(n.host.Answered()), true
	case "message":
		return n.host.Message()
	default:
		if v, ok := n.host.GetParam(name); ok {
			return script.String(v), true
		}
		return script.Operation{}, false
	}
}

func (n *nativeChannel) Set(name string, val script.Operation) bool {
	switch name {
	case "id", "status", "answered", "message":
		return true // read-only fields: silently refuse the write
	default:
		n.host.SetParam(name, val.Str())
		return true
	}
}

// paramsFromObject collects a plain object's own string-valued fields
// into a map, the way Message.new does for its own params argument.
func paramsFromObject(op script.Operation) map[string]string {
	obj := op.Object()
	if obj == nil {
		return nil
	}
	out := map[string]string{}
	for _, k := range obj.OwnNames() {
		v, _ := obj.GetField(k)
		out[k] = v.Str()
	}
	return out
}

// InstallChannel builds a "Channel" object bound to host and assigns it
// onto ctx's mutable root namespace, for the duration of one call
//. Unlike the frozen global root, this is per-context
// and never shared.
func (b *Bridge) InstallChannel(ctx *script.Context, host ChannelHost) *script.Object {
	nc := &nativeChannel{host: host}
	obj := script.NewObject(&ctx.Mu)
	obj.SetNativeParams(nc)

	obj.Assign("getParam", nativeFunc("getParam", 1, 2, func(args []script.Operation) (script.Operation, error) {
		v, ok := host.GetParam(args[0].Str())
		if !ok {
			return argOr(args, 1, script.Null()), nil
		}
		return script.String(v), nil
	}))
	obj.Assign("setParam", nativeFunc("setParam", 2, 2, func(args []script.Operation) (script.Operation, error) {
		host.SetParam(args[0].Str(), args[1].Str())
		return script.Bool(true), nil
	}))
	obj.Assign("answer", nativeFunc("answer", 0, 0, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(host.Answer()), nil
	}))
	obj.Assign("ringing", nativeFunc("ringing", 0, 0, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(host.Ringing()), nil
	}))
	obj.Assign("callTo", nativeFunc("callTo", 1, 2, func(args []script.Operation) (script.Operation, error) {
		params := paramsFromObject(argOr(args, 1, script.Operation{}))
		return script.Bool(host.CallTo(args[0].Str(), params)), nil
	}))
	obj.Assign("callJust", nativeFunc("callJust", 1, 2, func(args []script.Operation) (script.Operation, error) {
		params := paramsFromObject(argOr(args, 1, script.Operation{}))
		return script.Bool(host.CallJust(args[0].Str(), params)), nil
	}))
	obj.Assign("hangup", nativeFunc("hangup", 0, 3, func(args []script.Operation) (script.Operation, error) {
		reason := argOr(args, 0, script.String("")).Str()
		params := paramsFromObject(argOr(args, 1, script.Operation{}))
		peer := argOr(args, 2, script.String("")).Str()
		return script.Bool(host.Hangup(reason, params, peer)), nil
	}))

	ctx.Root().Assign("Channel", script.Obj(obj))
	return obj
}

// RemoveChannel detaches the "Channel" binding at end of call, so any
// later access observes undefined rather than a stale host.
func (b *Bridge) RemoveChannel(ctx *script.Context) {
	ctx.Root().Delete("Channel")
}
