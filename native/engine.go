package native

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/two-barrels/scriptrt/script"
)

// debugTest is the minimum debug level scripts may request directly;
// anything lower is clamped up unless allow_abort is set.
const debugTest = 5

func (b *Bridge) buildEngine() *script.Object {
	e := script.NewObject(nil)

	e.Assign("id", script.String(b.ID))
	e.Assign("shared", script.Obj(b.buildSharedVars("")))

	e.Assign("sharedBag", nativeFunc("sharedBag", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Obj(b.buildSharedVars(args[0].Str())), nil
	}))

	e.Assign("setTimeout", nativeFuncCtx("setTimeout", 2, -1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.scheduleTimer(r, args, false)
	}))
	e.Assign("setInterval", nativeFuncCtx("setInterval", 2, -1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.scheduleTimer(r, args, true)
	}))
	e.Assign("clearTimeout", nativeFuncCtx("clearTimeout", 1, 1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		id, _ := args[0].Int64()
		b.Worker(r.Context()).ClearTimeout(id)
		return script.Undefined(), nil
	}))
	e.Assign("clearInterval", nativeFuncCtx("clearInterval", 1, 1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		id, _ := args[0].Int64()
		b.Worker(r.Context()).ClearTimeout(id)
		return script.Undefined(), nil
	}))

	e.Assign("sleep", nativeFuncCtx("sleep", 1, 1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return sleepAsync(r, args[0], time.Millisecond)
	}))
	e.Assign("usleep", nativeFuncCtx("usleep", 1, 1, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return sleepAsync(r, args[0], time.Microsecond)
	}))
	e.Assign("yield", nativeFuncCtx("yield", 0, 0, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return pauseOnce(r)
	}))
	e.Assign("idle", nativeFuncCtx("idle", 0, 0, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return pauseOnce(r)
	}))

	e.Assign("dispatch", nativeFuncCtx("dispatch", 1, 2, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		return b.dispatchEngine(r, args)
	}))

	e.Assign("restart", nativeFunc("restart", 0, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(b.AllowAbort && !b.ShuttingDown()), nil
	}))

	e.Assign("debug", nativeFunc("debug", 1, -1, func(args []script.Operation) (script.Operation, error) {
		level, _ := args[0].Int64()
		if !b.AllowAbort && level < debugTest {
			level = debugTest
		}
		var text []string
		for _, a := range args[1:] {
			text = append(text, a.Str())
		}
		if b.AllowTrace {
			b.Log.Debug(strings.Join(text, " "), "level", level)
		}
		return script.Undefined(), nil
	}))

	e.Assign("atob", nativeFunc("atob", 1, 1, func(args []script.Operation) (script.Operation, error) {
		out, err := base64.StdEncoding.DecodeString(args[0].Str())
		if err != nil {
			return script.Null(), nil
		}
		return script.String(string(out)), nil
	}))
	e.Assign("btoa", nativeFunc("btoa", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.String(base64.StdEncoding.EncodeToString([]byte(args[0].Str()))), nil
	}))
	e.Assign("btoh", nativeFunc("btoh", 1, 2, func(args []script.Operation) (script.Operation, error) {
		sep := ""
		if len(args) > 1 {
			sep = args[1].Str()
		}
		return script.String(hexEncodeSep([]byte(args[0].Str()), sep)), nil
	}))
	e.Assign("htob", nativeFunc("htob", 1, 2, func(args []script.Operation) (script.Operation, error) {
		sep := ""
		if len(args) > 1 {
			sep = args[1].Str()
		}
		s := args[0].Str()
		if sep != "" {
			s = strings.ReplaceAll(s, sep, "")
		}
		out, err := hex.DecodeString(s)
		if err != nil {
			return script.Null(), nil
		}
		return script.String(string(out)), nil
	}))

	return e
}

// hexEncodeSep hex-encodes data, joining byte pairs with sep. It's the
// inverse of Engine.htob's decoding modulo case: btoh(htob(x,'-'),'-') == x.
func hexEncodeSep(data []byte, sep string) string {
	if sep == "" {
		return hex.EncodeToString(data)
	}
	parts := make([]string, len(data))
	for i, bb := range data {
		parts[i] = hex.EncodeToString([]byte{bb})
	}
	return strings.Join(parts, sep)
}

// scheduleTimer implements Engine.setTimeout/setInterval: the callback
// (a script function reference, not a name) runs on the event worker's
// own goroutine but under the owning context's mutex, serialising it
// with any runner already executing there ("Mutex
// discipline").
func (b *Bridge) scheduleTimer(r *script.Runner, args []script.Operation, repeat bool) (script.Operation, error) {
	fn := args[0].Function()
	if fn == nil {
		return script.Operation{}, eris.New("setTimeout/setInterval requires a function as the first argument")
	}
	ms, _ := args[1].Int64()
	extra := append([]script.Operation(nil), args[2:]...)
	ctx := r.Context()
	w := b.Worker(ctx)

	fire := func(_ []interface{}) {
		if ctx.Terminated() {
			return
		}
		ctx.Mu.Lock()
		defer ctx.Mu.Unlock()
		switch {
		case fn.NativeCtx != nil:
			_, _ = fn.NativeCtx(r, extra)
		case fn.Native != nil:
			_, _ = fn.Native(extra)
		}
	}

	var id int64
	if repeat {
		id = w.SetInterval(ms, fire)
	} else {
		id = w.SetTimeout(ms, fire)
	}
	return script.Int(id), nil
}
