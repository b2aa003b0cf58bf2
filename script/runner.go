package script

import (
	"sync"

	"github.com/rotisserie/eris"
)

// Status is the runner's execution state.
type Status int

const (
	Invalid Status = iota
	Running
	Incomplete
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Incomplete:
		return "incomplete"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// Runner is a single suspendable execution of compiled Code against a
// Context. A Runner belongs to exactly
// one Context for its lifetime.
type Runner struct {
	mu sync.Mutex

	code    *Code
	ctx     *Context
	info    *Info
	traceID string

	pc     int
	stack  []Operation
	status Status

	async []AsyncOp

	// onTopLevelDone, if set, fires exactly once when the runner first
	// reaches Succeeded or Failed from top-level execution. The global
	// script manager uses this to flush queued re-init events.
	onTopLevelDone func(*Runner)
	doneFired      bool

	lastErr error
}

func newRunner(code *Code, ctx *Context, info *Info) *Runner {
	return &Runner{code: code, ctx: ctx, info: info, status: Invalid}
}

// Context returns the runner's bound context.
func (r *Runner) Context() *Context { return r.ctx }

// Code returns the runner's compiled code.
func (r *Runner) Code() *Code { return r.code }

// Info returns the runner's script-info tag.
func (r *Runner) Info() *Info { return r.info }

// Status returns the current execution status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetTraceID stamps a trace correlator onto the runner (propagated from
// a wrapped Message, ).
func (r *Runner) SetTraceID(id string) { r.traceID = id }

// TraceID returns the runner's trace correlator, if any.
func (r *Runner) TraceID() string { return r.traceID }

// LastError returns the error that caused a Failed status, if any.
func (r *Runner) LastError() error { return r.lastErr }

// Push pushes a value onto the evaluation stack. Native methods must
// push exactly one result per call.
func (r *Runner) Push(op Operation) { r.stack = append(r.stack, op) }

// Pop pops a value off the evaluation stack.
func (r *Runner) Pop() (Operation, bool) {
	if len(r.stack) == 0 {
		return Operation{}, false
	}
	n := len(r.stack) - 1
	v := r.stack[n]
	r.stack = r.stack[:n]
	return v, true
}

// PopN pops count values in reverse order, returning them in source
// (left-to-right) order, as "extractArgs" requires.
func (r *Runner) PopN(count int) ([]Operation, error) {
	if count > len(r.stack) {
		return nil, eris.New("stack underflow")
	}
	out := make([]Operation, count)
	for i := count - 1; i >= 0; i-- {
		v, _ := r.Pop()
		out[i] = v
	}
	return out, nil
}

// Enqueue appends an async unit to the runner's queue.
func (r *Runner) Enqueue(op AsyncOp) {
	r.mu.Lock()
	r.async = append(r.async, op)
	r.mu.Unlock()
}

// Pause transitions the runner to Incomplete. A later call to Execute
// resumes from the saved program counter.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.status = Incomplete
	r.mu.Unlock()
}

// pushAsyncResult is the narrow channel by which an AsyncOp hands its
// result back to the paused runner before Execute resumes it.
func (r *Runner) pushAsyncResult(op Operation) { r.Push(op) }

// Execute drives the runner forward. If there is a pending async op, it
// is run first (outside the context mutex: the caller must not be
// holding ctx.Mu when calling Execute on a runner with pending async
// work). Execute returns the resulting status.
func (r *Runner) Execute() Status {
	r.mu.Lock()
	if r.status == Invalid {
		r.status = Running
	}
	r.mu.Unlock()

	for {
		r.mu.Lock()
		var pending AsyncOp
		if len(r.async) > 0 {
			pending = r.async[0]
			r.async = r.async[1:]
		}
		r.mu.Unlock()

		if pending != nil {
			if err := pending.Run(r); err != nil {
				r.fail(err)
				return r.Status()
			}
			r.mu.Lock()
			r.status = Running
			r.mu.Unlock()
			continue
		}

		if r.pc >= len(r.code.Instr) {
			r.finish(Succeeded, nil)
			return r.Status()
		}

		instr := r.code.Instr[r.pc]
		if instr.Exec == nil {
			r.pc++
			continue
		}

		advance, err := instr.Exec(r)
		if err != nil {
			r.fail(err)
			return r.Status()
		}

		if advance {
			r.pc++
		}

		r.mu.Lock()
		suspended := r.status == Incomplete
		r.mu.Unlock()
		if suspended {
			return Incomplete
		}
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.status = Failed
	r.lastErr = err
	r.mu.Unlock()
	r.fireDone()
}

func (r *Runner) finish(s Status, err error) {
	r.mu.Lock()
	r.status = s
	r.lastErr = err
	r.mu.Unlock()
	r.fireDone()
}

func (r *Runner) fireDone() {
	r.mu.Lock()
	already := r.doneFired
	cb := r.onTopLevelDone
	if !already {
		r.doneFired = true
	}
	r.mu.Unlock()
	if !already && cb != nil {
		cb(r)
	}
}

// OnTopLevelDone registers the completion callback described above.
func (r *Runner) OnTopLevelDone(cb func(*Runner)) { r.onTopLevelDone = cb }

// CallMethod looks up name on obj (walking its prototype chain, per the
// native bridge's field-access contract) and invokes it as a method,
// preferring a runner-aware NativeCtx over a plain Native. ok=false and
// no error means name did not resolve to a callable field at all,
// distinct from the callee itself failing.
func (r *Runner) CallMethod(obj *Object, name string, args []Operation) (Operation, bool, error) {
	v, found := obj.GetField(name)
	if !found {
		if res, ok, err := arrayMethod(r, obj, name, args); ok {
			return res, true, err
		}
		return Undefined(), false, nil
	}
	fn := v.Function()
	if fn == nil {
		return Undefined(), false, eris.New("field is not a function: " + name)
	}
	res, err := r.CallFunc(fn, args)
	return res, true, err
}

// CallFunc invokes fn with args, preferring NativeCtx (which receives
// the calling Runner, so a script-defined function body can itself call
// back into a suspending native, e.g. Message.dispatch(true)) over a
// plain Native. Every bridge method and every function the reference
// compiler (script.SimpleCompiler) parses goes through this single
// dispatch point.
func (r *Runner) CallFunc(fn *Func, args []Operation) (Operation, error) {
	switch {
	case fn.NativeCtx != nil:
		return fn.NativeCtx(r, args)
	case fn.Native != nil:
		return fn.Native(args)
	default:
		return Undefined(), eris.New("function has no runnable body: " + fn.Name)
	}
}

// RunFunction calls a named script function with args, returning its
// result. If the function is not defined, it silently returns
// (Undefined(), false, nil): this is how optional lifecycle callbacks
// work.
func (r *Runner) RunFunction(name string, args []Operation) (Operation, bool, error) {
	v, ok, err := r.ctx.Get(name)
	if err != nil {
		return Operation{}, false, err
	}
	if !ok {
		return Undefined(), false, nil
	}
	fn := v.Function()
	if fn == nil {
		return Undefined(), false, nil
	}
	res, err := r.CallFunc(fn, args)
	if err != nil {
		return Operation{}, false, err
	}
	return res, true, nil
}
