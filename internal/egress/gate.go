package egress

import (
	"context"
	"errors"
	"time"
)

// ErrGateTimeout means the worker gate stayed saturated past the
// configured wait.
var ErrGateTimeout = errors.New("worker gate acquire timeout")

// Gate bounds how many extraction calls run at once, so an upstream
// stall cannot pile up unbounded in-flight work. Acquisition blocks the
// calling goroutine cooperatively, never the process.
type Gate struct {
	sem     chan struct{}
	timeout time.Duration
}

// NewGate builds a gate admitting size concurrent holders.
func NewGate(size int, timeout time.Duration) *Gate {
	if size <= 0 {
		size = 4
	}
	return &Gate{sem: make(chan struct{}, size), timeout: timeout}
}

// Acquire takes a slot, waiting up to the gate timeout.
func (g *Gate) Acquire(ctx context.Context) error {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrGateTimeout
	}
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() { <-g.sem }
