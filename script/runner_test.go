package script

import "testing"

func TestRunnerRunsTopLevelToCompletion(t *testing.T) {
	code := NewBuilder("top.js").
		Toplevel(1, func(r *Runner) (bool, error) {
			_ = r.ctx.Set("ran", Bool(true))
			return true, nil
		}).
		Build()

	ctx := NewContext(nil, 0, 1)
	runner := code.NewRunner(ctx, NewInfo(InfoStatic, "top"))

	if got := runner.Execute(); got != Succeeded {
		t.Fatalf("expected Succeeded, got %v", got)
	}
	v, ok, err := ctx.Get("ran")
	if err != nil || !ok || !v.Boolean() {
		t.Fatal("top-level instruction should have run")
	}
}

func TestRunnerSuspendAndResume(t *testing.T) {
	resumed := false
	code := NewBuilder("susp.js").
		Toplevel(1, func(r *Runner) (bool, error) {
			r.Enqueue(AsyncFunc(func(r *Runner) error {
				resumed = true
				r.pushAsyncResult(Bool(true))
				return nil
			}))
			r.Pause()
			return true, nil
		}).
		Toplevel(2, func(r *Runner) (bool, error) {
			v, _ := r.Pop()
			_ = r.ctx.Set("asyncResult", v)
			return true, nil
		}).
		Build()

	ctx := NewContext(nil, 0, 1)
	runner := code.NewRunner(ctx, NewInfo(InfoStatic, "susp"))

	if got := runner.Execute(); got != Incomplete {
		t.Fatalf("expected Incomplete after pause, got %v", got)
	}
	if resumed {
		t.Fatal("async op should not have run yet on first Execute return")
	}

	if got := runner.Execute(); got != Succeeded {
		t.Fatalf("expected Succeeded after resume, got %v", got)
	}
	v, ok, _ := ctx.Get("asyncResult")
	if !ok || !v.Boolean() {
		t.Fatal("async result should have been pushed and consumed")
	}
}

func TestRunFunctionMissingCallbackReturnsFalse(t *testing.T) {
	code := NewCode("empty.js", nil, nil)
	ctx := NewContext(nil, 0, 1)
	runner := code.NewRunner(ctx, NewInfo(InfoRoute, "empty"))

	_, ok, err := runner.RunFunction("onRoute", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("undefined callback must report ok=false, not error")
	}
}
