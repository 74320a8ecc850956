package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned by Do after Close.
var ErrLoopClosed = errors.New("transport: loop closed")

// Loop runs submitted functions one at a time on a single goroutine, so state
// touched only from inside those functions needs no locking.
type Loop struct {
	ops       chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewLoop() *Loop {
	l := &Loop{
		ops:     make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.ops:
			fn()
		}
	}
}

// Do runs fn on the loop and waits for it to finish. If ctx ends first the
// function may still run later; its effects are not rolled back.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case l.ops <- op:
	case <-l.quit:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop after the current function returns. Idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.stopped
}
