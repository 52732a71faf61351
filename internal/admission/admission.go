// Package admission limits how many retrieval pipelines run at once,
// globally and per user, queueing the overflow with a bounded wait.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when a user's queue is at capacity or a
// queued request waited past the configured maximum.
var ErrQueueFull = errors.New("admission queue full")

// Config bounds the controller.
type Config struct {
	GlobalCap    int
	PerUserCap   int
	UserQueueCap int // queued (not yet admitted) requests per user
	MaxWait      time.Duration
}

// Controller enforces the caps. Queued requests are admitted same-user
// FIFO; the global queue interleaves across users because admission
// skips tickets whose user is already at their cap, so one user's
// backlog cannot starve others.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	running int
	perUser map[int64]int
	queued  map[int64]int
	waiting []*ticket
}

type ticket struct {
	user     int64
	ready    chan struct{}
	admitted bool
	gone     bool // abandoned by its waiter
}

// New builds a controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		perUser: make(map[int64]int),
		queued:  make(map[int64]int),
	}
}

// Admit blocks until the request holds a slot, returning nil on
// admission. Fails with ErrQueueFull when the user's queue is full or
// the wait expires, and with ctx.Err() when the caller cancels while
// queued. Every nil return must be paired with Release.
func (c *Controller) Admit(ctx context.Context, user int64) error {
	c.mu.Lock()
	if c.admittableLocked(user) {
		c.takeLocked(user)
		c.mu.Unlock()
		return nil
	}
	if c.queued[user] >= c.cfg.UserQueueCap {
		c.mu.Unlock()
		slog.Debug("admission rejected: user queue full", slog.Int64("user", user))
		return ErrQueueFull
	}
	t := &ticket{user: user, ready: make(chan struct{})}
	c.waiting = append(c.waiting, t)
	c.queued[user]++
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.MaxWait)
	defer timer.Stop()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		if c.abandon(t) {
			return ctx.Err()
		}
		// Admitted concurrently with cancellation: give the slot back.
		c.Release(user)
		return ctx.Err()
	case <-timer.C:
		if c.abandon(t) {
			return ErrQueueFull
		}
		return nil // admitted just as the timer fired
	}
}

// Release frees a slot taken by Admit and hands it to the next eligible
// queued ticket, if any.
func (c *Controller) Release(user int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running--
	c.perUser[user]--
	if c.perUser[user] <= 0 {
		delete(c.perUser, user)
	}
	c.promoteLocked()
}

// Running returns the number of currently admitted pipelines.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// QueuedFor returns how many of a user's requests are waiting.
func (c *Controller) QueuedFor(user int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued[user]
}

func (c *Controller) admittableLocked(user int64) bool {
	return c.running < c.cfg.GlobalCap && c.perUser[user] < c.cfg.PerUserCap
}

func (c *Controller) takeLocked(user int64) {
	c.running++
	c.perUser[user]++
}

// abandon removes a ticket from the queue. Returns false when the ticket
// was already admitted, in which case the waiter owns a slot it must
// either use or release.
func (c *Controller) abandon(t *ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.admitted {
		return false
	}
	t.gone = true
	c.queued[t.user]--
	if c.queued[t.user] <= 0 {
		delete(c.queued, t.user)
	}
	return true
}

// promoteLocked admits queued tickets in FIFO order, skipping users at
// their cap and tickets whose waiters gave up.
func (c *Controller) promoteLocked() {
	kept := c.waiting[:0]
	for _, t := range c.waiting {
		switch {
		case t.gone:
			continue
		case c.admittableLocked(t.user):
			c.takeLocked(t.user)
			c.queued[t.user]--
			if c.queued[t.user] <= 0 {
				delete(c.queued, t.user)
			}
			t.admitted = true
			close(t.ready)
		default:
			kept = append(kept, t)
		}
	}
	c.waiting = kept
}
