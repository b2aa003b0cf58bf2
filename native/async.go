package native

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/two-barrels/scriptrt/script"
)

// sleepAsync implements Engine.sleep/usleep: a cooperative suspension
// point that blocks the event loop's async worker, not
// any other runner, for the requested duration before resuming with
// undefined. Per the runner's suspend/resume contract (script/runner.go,
// mirrored by runner_test.go's TestRunnerSuspendAndResume), the caller
// must structure the script so a later instruction pops the resumed
// value; this call itself only arms the suspension and returns a
// placeholder.
func sleepAsync(r *script.Runner, durOp script.Operation, unit time.Duration) (script.Operation, error) {
	n, ok := durOp.Int64()
	if !ok || n < 0 {
		return script.Operation{}, eris.New("sleep/usleep requires a non-negative numeric duration")
	}
	r.Enqueue(script.AsyncFunc(func(rr *script.Runner) error {
		time.Sleep(time.Duration(n) * unit)
		rr.Push(script.Undefined())
		return nil
	}))
	r.Pause()
	return script.Undefined(), nil
}

// pauseOnce implements Engine.yield/idle: hands control back to the
// runner loop for one cooperative round-trip with no actual delay.
func pauseOnce(r *script.Runner) (script.Operation, error) {
	r.Enqueue(script.AsyncFunc(func(rr *script.Runner) error {
		rr.Push(script.Undefined())
		return nil
	}))
	r.Pause()
	return script.Undefined(), nil
}

// dispatchEngine implements Engine.dispatch(msg[, async]): // "dispatch always dispatches synchronously unless the first argument
// is true, in which case the runner suspends and the async unit
// performs Engine.dispatch on a worker thread."
func (b *Bridge) dispatchEngine(r *script.Runner, args []script.Operation) (script.Operation, error) {
	nm, ok := nativeMessageOf(args[0])
	if !ok {
		return script.Bool(false), nil
	}
	async := false
	if len(args) > 1 {
		async = args[1].Boolean()
	}
	if !async {
		return script.Bool(b.dispatchSync(nm)), nil
	}
	r.Enqueue(script.AsyncFunc(func(rr *script.Runner) error {
		handled := b.dispatchSync(nm)
		rr.Push(script.Bool(handled))
		return nil
	}))
	r.Pause()
	return script.Undefined(), nil
}

func (b *Bridge) dispatchSync(nm *nativeMessage) bool {
	nm.mu.Lock()
	msg := nm.msg
	nm.mu.Unlock()
	if msg == nil {
		return false
	}
	return b.Dispatcher.Dispatch(msg, b.buildMessageOperation)
}
