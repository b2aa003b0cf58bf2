package script

import (
	"sync"

	"github.com/rotisserie/eris"
)

// NativeParams is a live, host-owned view consulted by an Object on
// field reads, and optionally the write target for field writes. It
// backs native bridge objects such as Message and Channel (,
// "optionally a native parameters pointer").
type NativeParams interface {
	// Get returns the host-side value for name, and whether it exists.
	Get(name string) (Operation, bool)
	// Set attempts to write name=val on the host side. Returning false
	// means the write should fall through to the object's own map (or
	// fail, if the object is frozen).
	Set(name string, val Operation) bool
}

// Object is a script-level object: a mapping from string property names
// to operations, with a single-inheritance prototype chain, an optional
// serialising mutex shared with its owning context, and a frozen flag.
type Object struct {
	mu *sync.Mutex

	props    map[string]Operation
	order    []string
	proto    *Object
	frozen   bool
	lineNo   int
	native   NativeParams
	isArray  bool
	arrayLen int64
}

// NewObject creates an empty, mutable object. mu, if non-nil, is the
// creator context's serialising mutex ("a creator-supplied
// mutex pointer").
func NewObject(mu *sync.Mutex) *Object {
	return &Object{mu: mu, props: make(map[string]Operation)}
}

// NewArray creates an empty array object: an object whose numeric-named
// properties carry the length contract described in.
func NewArray(mu *sync.Mutex) *Object {
	o := NewObject(mu)
	o.isArray = true
	return o
}

// NewObjectWithProto creates an object whose __proto__ points at proto.
// Prototype edges are only set at creation time from an already-allocated
// object, so the chain can never contain a cycle.
func NewObjectWithProto(mu *sync.Mutex, proto *Object) *Object {
	o := NewObject(mu)
	o.proto = proto
	return o
}

// SetNativeParams attaches a live host-side view to the object.
func (o *Object) SetNativeParams(np NativeParams) { o.native = np }

// NativeParamsOf returns the object's attached NativeParams view, or nil
// if none is attached. Native bridge packages use this to recover their
// own concrete binding (e.g. the live *messagebus.Message behind a
// Message object) from a bare script.Operation.
func (o *Object) NativeParamsOf() NativeParams { return o.native }

// SetLine records the object's creation source line.
func (o *Object) SetLine(line int) { o.lineNo = line }

// Line returns the object's creation source line.
func (o *Object) Line() int { return o.lineNo }

// Freeze marks the object frozen: every subsequent Assign fails.
func (o *Object) Freeze() { o.frozen = true }

// Frozen reports whether the object is frozen.
func (o *Object) Frozen() bool { return o.frozen }

// Proto returns the object's prototype, or nil.
func (o *Object) Proto() *Object { return o.proto }

// IsArray reports whether this object carries the array length contract.
func (o *Object) IsArray() bool { return o.isArray }

func (o *Object) lock() {
	if o.mu != nil {
		o.mu.Lock()
	}
}

func (o *Object) unlock() {
	if o.mu != nil {
		o.mu.Unlock()
	}
}

// HasField reports whether name resolves anywhere on the prototype chain
// or via native params.
func (o *Object) HasField(name string) bool {
	_, ok := o.GetField(name)
	return ok
}

// GetField resolves name from an array's length, then native params, then
// own properties, then the prototype chain.
func (o *Object) GetField(name string) (Operation, bool) {
	o.lock()
	defer o.unlock()
	return o.getFieldLocked(name)
}

func (o *Object) getFieldLocked(name string) (Operation, bool) {
	if name == "length" && o.isArray {
		return Int(o.arrayLen), true
	}
	if o.native != nil {
		if v, ok := o.native.Get(name); ok {
			return v, true
		}
	}
	if v, ok := o.props[name]; ok {
		return v, true
	}
	if o.proto != nil {
		return o.proto.GetField(name)
	}
	return Operation{}, false
}

// Assign sets name=val on the object's own properties (never on a
// prototype). Returns false without mutating anything if the object is
// frozen; a write that a native params target refuses falls through to
// the own properties.
func (o *Object) Assign(name string, val Operation) bool {
	o.lock()
	defer o.unlock()

	if o.frozen {
		return false
	}
	if o.native != nil && o.native.Set(name, val) {
		return true
	}
	if o.isArray {
		if name == "length" {
			n, ok := val.Int64()
			if !ok || n < 0 {
				return false
			}
			o.truncateLocked(n)
			return true
		}
		if idx, ok := arrayIndex(name); ok {
			o.props[name] = val.Named(name)
			if _, seen := indexOf(o.order, name); !seen {
				o.order = append(o.order, name)
			}
			// Invariant I2: length > i after assignment.
			if idx+1 > o.arrayLen {
				o.arrayLen = idx + 1
			}
			return true
		}
	}
	if _, exists := o.props[name]; !exists {
		o.order = append(o.order, name)
	}
	o.props[name] = val.Named(name)
	return true
}

// truncateLocked implements array length-assignment truncation: all
// indices >= n are removed.
func (o *Object) truncateLocked(n int64) {
	kept := o.order[:0:0]
	for _, k := range o.order {
		if idx, ok := arrayIndex(k); ok && idx >= n {
			delete(o.props, k)
			continue
		}
		kept = append(kept, k)
	}
	o.order = kept
	o.arrayLen = n
}

// Delete removes an own property.
func (o *Object) Delete(name string) {
	o.lock()
	defer o.unlock()
	if _, ok := o.props[name]; ok {
		delete(o.props, name)
		if i, found := indexOf(o.order, name); found {
			o.order = append(o.order[:i], o.order[i+1:]...)
		}
	}
}

// OwnNames returns the object's own property names in insertion order.
func (o *Object) OwnNames() []string {
	o.lock()
	defer o.unlock()
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// Len returns the array length (0 for non-arrays).
func (o *Object) Len() int64 {
	o.lock()
	defer o.unlock()
	return o.arrayLen
}

// Push appends a value to an array object, growing its length.
func (o *Object) Push(val Operation) (int64, error) {
	if !o.isArray {
		return 0, eris.New("push called on a non-array object")
	}
	o.lock()
	idx := o.arrayLen
	o.unlock()
	name := itoa(idx)
	if !o.Assign(name, val) {
		return 0, eris.New("push failed: object is frozen")
	}
	return o.Len(), nil
}

// DeepCopy produces a structurally independent, deep copy of o, detecting
// cycles in the source graph. It returns an error (rather than looping)
// if a cycle is found.
func (o *Object) DeepCopy(mu *sync.Mutex) (*Object, error) {
	return o.deepCopy(mu, make(map[*Object]*Object))
}

func (o *Object) deepCopy(mu *sync.Mutex, visiting map[*Object]*Object) (*Object, error) {
	if existing, ok := visiting[o]; ok {
		// Any re-visit of an in-progress node is a cycle: reject rather
		// than attempt cross-reference resolution.
		_ = existing
		return nil, eris.New("cyclic object graph: cannot deep copy")
	}

	o.lock()
	isArray, arrayLen, lineNo := o.isArray, o.arrayLen, o.lineNo
	order := append([]string(nil), o.order...)
	props := make(map[string]Operation, len(o.props))
	for k, v := range o.props {
		props[k] = v
	}
	o.unlock()

	cp := NewObject(mu)
	cp.isArray = isArray
	cp.arrayLen = arrayLen
	cp.lineNo = lineNo
	visiting[o] = cp

	for _, name := range order {
		v := props[name]
		if v.Kind == KindObject && v.obj != nil {
			nested, err := v.obj.deepCopy(mu, visiting)
			if err != nil {
				return nil, err
			}
			v = Obj(nested).Named(name)
		}
		cp.props[name] = v
		cp.order = append(cp.order, name)
	}
	delete(visiting, o)

	// Prototypes are shared by reference (frozen prototypes are shared
	// across instances by design), not deep-copied.
	cp.proto = o.proto
	return cp, nil
}

func indexOf(s []string, v string) (int, bool) {
	for i, x := range s {
		if x == v {
			return i, true
		}
	}
	return -1, false
}

func arrayIndex(name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	var n int64
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
