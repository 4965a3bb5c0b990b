// Package worker provides the uniform spawn/stop/pause lifecycle every
// long-running component in this runtime follows: Init, then repeated
// RunOnce until stopped, then Shutdown.
package worker

import (
	"context"
	"sync"
	"time"
)

// pauseCheckInterval bounds how long a paused Loop waits before re-checking
// whether it has been asked to stop, so shutdown is never starved.
const pauseCheckInterval = 10 * time.Millisecond

// Runner is implemented by anything that can be driven by a Loop.
type Runner interface {
	// Init runs once, on the worker's own goroutine, before the first
	// RunOnce call.
	Init(ctx context.Context) error
	// RunOnce performs one iteration of work. It should return promptly
	// when ctx is cancelled.
	RunOnce(ctx context.Context)
	// Shutdown runs once after the loop has been asked to stop and the
	// in-flight RunOnce call (if any) has returned.
	Shutdown(ctx context.Context)
}

// Loop drives a Runner on its own goroutine with cooperative cancellation
// and an optional pause latch.
type Loop struct {
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	paused bool
	cond   *sync.Cond
}

// Spawn starts the runner's Init/RunOnce/Shutdown lifecycle on a new
// goroutine and returns a handle for stopping and pausing it.
func Spawn(parent context.Context, r Runner) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		runner: r,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	if err := l.runner.Init(ctx); err != nil {
		// Initialization failure is treated the same as an immediate
		// stop request: the loop shuts down without ever calling
		// RunOnce.
		l.runner.Shutdown(ctx)
		return
	}

	for {
		if ctx.Err() != nil {
			break
		}

		l.mu.Lock()
		for l.paused && ctx.Err() == nil {
			l.waitPauseTick()
		}
		l.mu.Unlock()

		if ctx.Err() != nil {
			break
		}

		l.runner.RunOnce(ctx)
	}

	l.runner.Shutdown(context.Background())
}

// waitPauseTick parks for at most pauseCheckInterval. Caller must hold l.mu.
func (l *Loop) waitPauseTick() {
	timer := time.AfterFunc(pauseCheckInterval, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()
	l.cond.Wait()
}

// Pause parks the loop between RunOnce iterations until Resume is called.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume releases a paused loop.
func (l *Loop) Resume() {
	l.mu.Lock()
	l.paused = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Stop requests cancellation and blocks until the loop has called Shutdown
// and exited.
func (l *Loop) Stop() {
	l.cancel()
	l.mu.Lock()
	l.paused = false
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

// Done returns a channel that closes once the loop has fully exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
