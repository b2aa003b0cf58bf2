package native

import (
	"sync"
	"time"

	"github.com/two-barrels/scriptrt/script"
)

// semaphoreState is a named, process-wide counting semaphore. wait()
// suspends the calling runner's async unit until signal() posts or the
// optional timeout elapses.
type semaphoreState struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

func (b *Bridge) semaphore(name string) *semaphoreState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.semaphores == nil {
		b.semaphores = make(map[string]*semaphoreState)
	}
	s, ok := b.semaphores[name]
	if !ok {
		s = &semaphoreState{}
		b.semaphores[name] = s
	}
	return s
}

// signal wakes one waiter if any are blocked, else increments the
// semaphore's available count for a future wait() to consume
// immediately.
func (s *semaphoreState) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
		return
	}
	s.count++
}

// wait blocks (cooperatively, via the caller's async unit) until a
// signal is available or maxWaitMs elapses (0 = wait forever). Returns
// whether the semaphore was acquired.
func (s *semaphoreState) wait(maxWaitMs int64) bool {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	if maxWaitMs <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(time.Duration(maxWaitMs) * time.Millisecond):
		return false
	}
}

func (b *Bridge) buildSemaphoreClass() *script.Object {
	cls := script.NewObject(nil)

	cls.Assign("wait", nativeFuncCtx("wait", 1, 2, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		name := args[0].Str()
		maxWait := int64(0)
		if len(args) > 1 {
			maxWait, _ = args[1].Int64()
		}
		s := b.semaphore(name)
		r.Enqueue(script.AsyncFunc(func(rr *script.Runner) error {
			acquired := s.wait(maxWait)
			rr.Push(script.Bool(acquired))
			return nil
		}))
		r.Pause()
		return script.Undefined(), nil
	}))

	cls.Assign("signal", nativeFunc("signal", 1, 1, func(args []script.Operation) (script.Operation, error) {
		b.semaphore(args[0].Str()).signal()
		return script.Bool(true), nil
	}))

	return cls
}
