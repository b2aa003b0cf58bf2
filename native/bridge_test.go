package native

import (
	"testing"

	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/objects"
	"github.com/two-barrels/scriptrt/script"
	"github.com/two-barrels/scriptrt/vars"
)

func newTestBridge(id string) *Bridge {
	dispatcher := messagebus.NewDispatcher()
	return NewBridge(id, vars.NewStore(), objects.NewStore(), dispatcher, nil)
}

func mustField(t *testing.T, obj *script.Object, name string) script.Operation {
	t.Helper()
	v, ok := obj.GetField(name)
	if !ok {
		t.Fatalf("expected field %q on root prototype", name)
	}
	return v
}

// callNative invokes a plain (non-runner) native function field by name,
// the same dispatch path script.Runner.CallMethod uses internally.
func callNative(t *testing.T, obj *script.Object, name string, args ...script.Operation) script.Operation {
	t.Helper()
	v := mustField(t, obj, name)
	fn := v.Function()
	if fn == nil {
		t.Fatalf("field %q is not callable", name)
	}
	if fn.Native == nil {
		t.Fatalf("field %q has no plain Native body", name)
	}
	res, err := fn.Native(args)
	if err != nil {
		t.Fatalf("calling %q: %v", name, err)
	}
	return res
}

func TestRootPrototypeIsFrozenAndHasExpectedGlobals(t *testing.T) {
	b := newTestBridge("engine-1")
	root := b.RootPrototype()
	if !root.Frozen() {
		t.Fatal("expected root prototype to be frozen")
	}
	for _, name := range []string{"Engine", "Message", "SharedObjects", "Semaphore", "JSON", "XML", "Math", "Date", "String", "DNS", "parseInt", "parseFloat", "isNaN"} {
		if _, ok := root.GetField(name); !ok {
			t.Fatalf("expected root to expose %q", name)
		}
	}
	if _, ok := root.GetField("Channel"); ok {
		t.Fatal("Channel must not be part of the frozen root (installed per-call only)")
	}
}

func TestCheckArity(t *testing.T) {
	if err := checkArity(1, 2, 0); err == nil {
		t.Fatal("expected error for too few arguments")
	}
	if err := checkArity(1, 2, 3); err == nil {
		t.Fatal("expected error for too many arguments")
	}
	if err := checkArity(1, 0, 5); err != nil {
		t.Fatalf("expected no max check when max<=0, got %v", err)
	}
	if err := checkArity(1, 2, 1); err != nil {
		t.Fatalf("expected arity 1..2 to accept 1 argument, got %v", err)
	}
}

func TestArgOr(t *testing.T) {
	args := []script.Operation{script.Int(7)}
	if n, _ := argOr(args, 0, script.Int(0)).Int64(); n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
	if n, _ := argOr(args, 1, script.Int(99)).Int64(); n != 99 {
		t.Fatalf("expected default 99, got %d", n)
	}
}

func TestWorkerIsLazilyCreatedAndTornDown(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)

	w1 := b.Worker(ctx)
	w2 := b.Worker(ctx)
	if w1 != w2 {
		t.Fatal("expected the same worker instance for the same context")
	}

	b.TeardownContext(ctx)
	b.mu.Lock()
	_, stillThere := b.workers[ctx]
	b.mu.Unlock()
	if stillThere {
		t.Fatal("expected TeardownContext to remove the context's worker")
	}
}

func TestTeardownContextClearsOwnedSharedObjects(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)

	obj := script.NewObject(nil)
	if err := b.Objects.Set("mine", obj, b.ID, false); err != nil {
		t.Fatalf("unexpected error setting shared object: %v", err)
	}
	if !b.Objects.Exists("mine") {
		t.Fatal("expected shared object to exist before teardown")
	}

	b.TeardownContext(ctx)
	if b.Objects.Exists("mine") {
		t.Fatal("expected TeardownContext to clear entries owned by this bridge")
	}
}

func TestShutdownMarksShuttingDownAndStopsWorkers(t *testing.T) {
	b := newTestBridge("engine-1")
	ctx := script.NewContext(b.RootPrototype(), 0, 1)
	b.Worker(ctx)

	if b.ShuttingDown() {
		t.Fatal("expected ShuttingDown to be false before Shutdown")
	}
	b.Shutdown()
	if !b.ShuttingDown() {
		t.Fatal("expected ShuttingDown to be true after Shutdown")
	}
	b.mu.Lock()
	n := len(b.workers)
	b.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no workers left after Shutdown, got %d", n)
	}
}
