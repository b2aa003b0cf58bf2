package objects

import (
	"sync"
	"testing"

	"github.com/two-barrels/scriptrt/script"
)

func TestSetThenGetReturnsFrozenStructuralCopy(t *testing.T) {
	var mu sync.Mutex
	o := script.NewObject(&mu)
	o.Assign("a", script.Int(1))

	s := NewStore()
	if err := s.Set("x", o, "owner1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Get("x")
	if got == nil {
		t.Fatal("expected a stored copy")
	}
	if !got.Frozen() {
		t.Fatal("stored copy handed back must be frozen")
	}
	v, ok := got.GetField("a")
	n, _ := v.Int64()
	if !ok || n != 1 {
		t.Fatalf("expected a=1, got %+v", v)
	}
}

func TestDeepCopyIndependenceOnArrayMutation(t *testing.T) {
	// S6: SharedObjects.set('x', o); o.a.push(4); get('x').a.length stays 3.
	var mu sync.Mutex
	arr := script.NewArray(&mu)
	arr.Push(script.Int(1))
	arr.Push(script.Int(2))
	arr.Push(script.Int(3))

	o := script.NewObject(&mu)
	o.Assign("a", script.Obj(arr))

	s := NewStore()
	if err := s.Set("x", o, "", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	arr.Push(script.Int(4))

	r := s.Get("x")
	af, _ := r.GetField("a")
	if af.Object().Len() != 3 {
		t.Fatalf("expected stored array length 3 (independent of later push), got %d", af.Object().Len())
	}
}

func TestSetRejectsCyclicGraph(t *testing.T) {
	var mu sync.Mutex
	a := script.NewObject(&mu)
	b := script.NewObject(&mu)
	a.Assign("b", script.Obj(b))
	b.Assign("a", script.Obj(a))

	s := NewStore()
	if err := s.Set("cyclic", a, "", false); err == nil {
		t.Fatal("expected an error storing a cyclic object graph")
	}
}

func TestCreateFailsIfAlreadyExists(t *testing.T) {
	var mu sync.Mutex
	o := script.NewObject(&mu)

	s := NewStore()
	if err := s.Create("dup", o, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Create("dup", o, "", false); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPersistentEntrySurvivesOwnerTeardown(t *testing.T) {
	var mu sync.Mutex
	o := script.NewObject(&mu)

	s := NewStore()
	_ = s.Set("transient", o, "engine-1", false)
	_ = s.Set("forever", o, "engine-1", true)

	s.ClearOwner("engine-1")

	if s.Exists("transient") {
		t.Fatal("owned entry must be removed on owner teardown")
	}
	if !s.Exists("forever") {
		t.Fatal("persistent entry must survive owner teardown")
	}
}

func TestDescriptionReportsOwnershipAndPersistence(t *testing.T) {
	var mu sync.Mutex
	o := script.NewObject(&mu)

	s := NewStore()
	_ = s.Set("a", o, "engine-1", false)
	_ = s.Set("b", o, "", true)

	da, ok := s.Description("a")
	if !ok || !da.Owned || da.Persistent {
		t.Fatalf("unexpected description for a: %+v", da)
	}
	db, ok := s.Description("b")
	if !ok || db.Owned || !db.Persistent {
		t.Fatalf("unexpected description for b: %+v", db)
	}
}

func TestClearAllOnlyMine(t *testing.T) {
	var mu sync.Mutex
	o := script.NewObject(&mu)

	s := NewStore()
	_ = s.Set("mine", o, "engine-1", false)
	_ = s.Set("theirs", o, "engine-2", false)

	s.ClearAll("engine-1")

	if s.Exists("mine") {
		t.Fatal("onlyMine clearAll must remove entries owned by that tag")
	}
	if !s.Exists("theirs") {
		t.Fatal("onlyMine clearAll must not remove entries owned by a different tag")
	}
}
