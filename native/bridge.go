// Package native implements the reflected native bridge: host-defined
// objects ("Engine", "Message", "Channel", "SharedVars",
// "SharedObjects", "Semaphore", "JSON", "XML") exposed to script code
// as script.Object values with a NativeParams-backed property surface.
// It generalizes a single wired-together server struct into a
// reflected object graph that scripts read instead of Go code calling
// directly.
package native

import (
	"sync"

	"github.com/oklog/ulid"
	"github.com/rotisserie/eris"

	"github.com/two-barrels/scriptrt/eventworker"
	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/objects"
	"github.com/two-barrels/scriptrt/script"
	"github.com/two-barrels/scriptrt/vars"

	"github.com/inconshreveable/log15"
)

// ScriptLoader loads a script file into a fresh (*script.Context,
// *script.Code) pair, used by Message.installSingleton/the
// Global-singleton handler variant to parse a dedicated
// file per delivery. It is supplied by the global script manager at
// wiring time, not implemented by this package, to avoid manager
// importing native importing manager.
type ScriptLoader func(file string) (*script.Context, *script.Code, error)

// Bridge is the process-wide native object registry: one frozen root
// prototype shared by every script.Context, plus the process-wide
// collaborators (shared variables, shared objects, the message
// dispatcher/bus, per-engine-instance event workers) that the bridge's
// native methods close over.
type Bridge struct {
	ID string // this engine instance's id, used as the SharedObjects owner tag

	Vars       *vars.Store
	Objects    *objects.Store
	Dispatcher *messagebus.Dispatcher
	Bus        messagebus.Bus

	Log log15.Logger

	AllowAbort   bool
	AllowTrace   bool
	TrackObjects bool

	// Loader resolves a file path into a fresh singleton runner, wired
	// in by the global script manager after both are constructed.
	Loader ScriptLoader

	mu           sync.Mutex
	workers      map[*script.Context]*eventworker.Worker
	shuttingDown bool
	hooks        map[string]*messagebus.QueueHook
	tracked      map[string]*messagebus.Handle
	semaphores   map[string]*semaphoreState

	root *script.Object
}

// NewBridge constructs a Bridge over the given process-wide stores. id
// identifies this engine instance for SharedObjects owner-scoped
// cleanup.
func NewBridge(id string, varsStore *vars.Store, objStore *objects.Store, dispatcher *messagebus.Dispatcher, bus messagebus.Bus) *Bridge {
	b := &Bridge{
		ID: id, Vars: varsStore, Objects: objStore, Dispatcher: dispatcher, Bus: bus,
		Log:     discardLogger(),
		workers: make(map[*script.Context]*eventworker.Worker),
	}
	b.root = b.buildRoot()
	return b
}

func discardLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

// RootPrototype returns the frozen global prototype every fresh
// script.Context is created against: one frozen root shared across all
// mutable per-instance contexts.
func (b *Bridge) RootPrototype() *script.Object { return b.root }

// Worker returns (creating lazily on first use) the event worker for
// ctx's owning script instance, one goroutine per live root Engine
// object.
func (b *Bridge) Worker(ctx *script.Context) *eventworker.Worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workers[ctx]
	if !ok {
		w = eventworker.NewWorker()
		b.workers[ctx] = w
	}
	return w
}

// TeardownContext stops ctx's event worker (if any) and removes every
// shared-object entry it owns, implementing per-instance teardown.
func (b *Bridge) TeardownContext(ctx *script.Context) {
	b.mu.Lock()
	w, ok := b.workers[ctx]
	delete(b.workers, ctx)
	b.mu.Unlock()
	if ok {
		w.Stop()
	}
	b.Objects.ClearOwner(b.ID)
}

// Shutdown marks the bridge as shutting down: engine.restart is
// refused, the dispatcher short-circuits every invocation to false, and
// the shared-object registry is cleared.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.shuttingDown = true
	workers := make([]*eventworker.Worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.workers = make(map[*script.Context]*eventworker.Worker)
	hooks := make([]*messagebus.QueueHook, 0, len(b.hooks))
	for _, h := range b.hooks {
		hooks = append(hooks, h)
	}
	b.hooks = make(map[string]*messagebus.QueueHook)
	b.mu.Unlock()

	b.Dispatcher.Shutdown()
	for _, w := range workers {
		w.Stop()
	}
	for _, h := range hooks {
		h.Uninstall()
	}
	b.Objects.ClearAll("")
}

// ShuttingDown reports whether Shutdown has been called.
func (b *Bridge) ShuttingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shuttingDown
}

func (b *Bridge) buildRoot() *script.Object {
	root := script.NewObject(nil)

	engine := b.buildEngine()
	root.Assign("Engine", script.Obj(engine))
	root.Assign("Message", script.Obj(b.buildMessageClass()))
	root.Assign("SharedObjects", script.Obj(b.buildSharedObjects()))
	root.Assign("Semaphore", script.Obj(b.buildSemaphoreClass()))
	root.Assign("JSON", script.Obj(b.buildJSON()))
	root.Assign("XML", script.Obj(b.buildXML()))
	root.Assign("Math", script.Obj(buildMath()))
	root.Assign("Date", script.Obj(buildDate()))
	root.Assign("String", script.Obj(buildString()))
	root.Assign("DNS", script.Obj(b.buildDNS()))
	installGlobalFunctions(root)

	root.Freeze()
	return root
}

func newULID() ulid.ULID {
	id, err := ulid.New(ulid.Now(), nil)
	if err != nil {
		return ulid.ULID{}
	}
	return id
}

func newID() string {
	return newULID().String()
}

// checkArity implements the extractArgs contract of:
// fails if fewer than min arguments were supplied, or (when max>0) more
// than max were.
func checkArity(min, max, count int) error {
	if count < min {
		return eris.Errorf("too few arguments: want at least %d, got %d", min, count)
	}
	if max > 0 && count > max {
		return eris.Errorf("too many arguments: want at most %d, got %d", max, count)
	}
	return nil
}

func argOr(args []script.Operation, i int, def script.Operation) script.Operation {
	if i < 0 || i >= len(args) {
		return def
	}
	return args[i]
}

func nativeFunc(name string, min, max int, fn func(args []script.Operation) (script.Operation, error)) script.Operation {
	return script.FuncRef(&script.Func{Name: name, Native: func(args []script.Operation) (script.Operation, error) {
		if err := checkArity(min, max, len(args)); err != nil {
			return script.Operation{}, err
		}
		return fn(args)
	}})
}

func nativeFuncCtx(name string, min, max int, fn func(r *script.Runner, args []script.Operation) (script.Operation, error)) script.Operation {
	return script.FuncRef(&script.Func{Name: name, NativeCtx: func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		if err := checkArity(min, max, len(args)); err != nil {
			return script.Operation{}, err
		}
		return fn(r, args)
	}})
}
