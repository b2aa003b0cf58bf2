package script

import (
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// AllocTracker counts object allocations for a context, honouring
// general.track_objects / general.track_obj_life.
type AllocTracker struct {
	Depth int
	count int64
}

// Track records one allocation.
func (t *AllocTracker) Track() {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.count, 1)
}

// Count returns the number of tracked allocations.
func (t *AllocTracker) Count() int64 {
	if t == nil {
		return 0
	}
	return atomic.LoadInt64(&t.count)
}

// Context is a per-instance root mutable namespace: a named list of
// operations plus the mutex that serialises all user state owned by this
// context.
type Context struct {
	Mu sync.Mutex

	root          *Object
	alloc         *AllocTracker
	instanceIndex int
	instanceCount int

	terminated int32
}

// NewContext creates a context rooted at a fresh global object whose
// prototype is the supplied frozen root prototype (typically the
// native-bridge root built by native.Bridge).
func NewContext(rootProto *Object, instanceIndex, instanceCount int) *Context {
	c := &Context{instanceIndex: instanceIndex, instanceCount: instanceCount}
	c.root = NewObjectWithProto(&c.Mu, rootProto)
	return c
}

// EnableAllocTracking turns on the context's allocation tracker at the
// given depth (general.track_objects / track_obj_life).
func (c *Context) EnableAllocTracking(depth int) {
	c.alloc = &AllocTracker{Depth: depth}
}

// Alloc returns the context's allocation tracker, or nil if disabled.
func (c *Context) Alloc() *AllocTracker { return c.alloc }

// Root returns the context's global namespace object.
func (c *Context) Root() *Object { return c.root }

// InstanceIndex returns the instance index: 0 for a single-instance
// script, 1..N for the instances of a multi-instance script.
func (c *Context) InstanceIndex() int { return c.instanceIndex }

// InstanceCount returns the total instance count N for this script.
func (c *Context) InstanceCount() int { return c.instanceCount }

// Terminated reports whether Cleanup has run.
func (c *Context) Terminated() bool { return atomic.LoadInt32(&c.terminated) != 0 }

// Get reads a global by name, holding the context mutex. Acquiring a
// value after termination is rejected.
func (c *Context) Get(name string) (Operation, bool, error) {
	if c.Terminated() {
		return Operation{}, false, eris.New("context is terminated")
	}
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Terminated() {
		return Operation{}, false, eris.New("context is terminated")
	}
	v, ok := c.root.getFieldLocked(name)
	return v, ok, nil
}

// Set writes a global by name, holding the context mutex.
func (c *Context) Set(name string, val Operation) error {
	if c.Terminated() {
		return eris.New("context is terminated")
	}
	return boolToErr(c.root.Assign(name, val), "assignment to frozen global namespace")
}

func boolToErr(ok bool, msg string) error {
	if ok {
		return nil
	}
	return eris.New(msg)
}

// Cleanup clears the namespace and marks the context terminated. Any
// Get/Set after Cleanup returns an error.
func (c *Context) Cleanup() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	atomic.StoreInt32(&c.terminated, 1)
	c.root = NewObjectWithProto(&c.Mu, c.root.proto)
}
