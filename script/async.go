package script

// AsyncOp is a reified "do this later on this runner" unit. A native
// helper enqueues one and calls Runner.Pause; the runner loop pops it,
// runs it (which may block),
// and the op pushes its result back onto the runner's stack before the
// runner resumes.
type AsyncOp interface {
	// Run executes the asynchronous unit. It may block. It must push
	// exactly one result value via r.Push before returning,
	// unless it returns a non-nil error, in which case the runner ends
	// Failed.
	Run(r *Runner) error
}

// AsyncFunc adapts a plain function to the AsyncOp interface.
type AsyncFunc func(r *Runner) error

func (f AsyncFunc) Run(r *Runner) error { return f(r) }
