package readiness

import (
	"context"
	"sync"
)

// Signal is an external readiness source such as font loading
type Signal interface {
	Wait(ctx context.Context) error
}

// SignalFunc adapts a function to Signal
type SignalFunc func(ctx context.Context) error

func (f SignalFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// Latch is a Signal that is set once by whoever learns of readiness
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch returns an unset latch
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set releases every waiter. Later calls do nothing.
func (l *Latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

// IsSet reports whether Set was called
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
