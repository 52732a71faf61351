package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		GlobalCap:    2,
		PerUserCap:   1,
		UserQueueCap: 2,
		MaxWait:      time.Second,
	}
}

func TestAdmitWithinCaps(t *testing.T) {
	c := New(testConfig())
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Admit(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Running(); got != 2 {
		t.Errorf("Running() = %d, want 2", got)
	}
}

func TestPerUserCapQueuesSecondRequest(t *testing.T) {
	c := New(testConfig())
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	admitted := make(chan error, 1)
	go func() { admitted <- c.Admit(context.Background(), 1) }()

	waitFor(t, func() bool { return c.QueuedFor(1) == 1 })
	select {
	case err := <-admitted:
		t.Fatalf("admitted past per-user cap: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	c.Release(1)
	if err := <-admitted; err != nil {
		t.Fatalf("queued request not promoted: %v", err)
	}
}

func TestUserQueueCapRejects(t *testing.T) {
	c := New(testConfig())
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		go c.Admit(context.Background(), 1) //nolint:errcheck
	}
	waitFor(t, func() bool { return c.QueuedFor(1) == 2 })

	if err := c.Admit(context.Background(), 1); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestWaitTimeoutReturnsQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWait = 20 * time.Millisecond
	c := New(cfg)
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := c.Admit(context.Background(), 1)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if time.Since(start) < cfg.MaxWait {
		t.Error("returned before the wait expired")
	}
	if got := c.QueuedFor(1); got != 0 {
		t.Errorf("QueuedFor = %d after timeout, want 0", got)
	}
}

func TestCancelWhileQueued(t *testing.T) {
	c := New(testConfig())
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	admitted := make(chan error, 1)
	go func() { admitted <- c.Admit(ctx, 1) }()
	waitFor(t, func() bool { return c.QueuedFor(1) == 1 })

	cancel()
	if err := <-admitted; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := c.QueuedFor(1); got != 0 {
		t.Errorf("QueuedFor = %d after cancel, want 0", got)
	}

	// The abandoned ticket must not absorb the slot freed later.
	admitted2 := make(chan error, 1)
	go func() { admitted2 <- c.Admit(context.Background(), 1) }()
	waitFor(t, func() bool { return c.QueuedFor(1) == 1 })
	c.Release(1)
	if err := <-admitted2; err != nil {
		t.Fatalf("live waiter not promoted: %v", err)
	}
}

func TestPromotionFIFO(t *testing.T) {
	cfg := Config{GlobalCap: 1, PerUserCap: 1, UserQueueCap: 2, MaxWait: time.Second}
	c := New(cfg)
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	// User 1 queues first, user 2 second; releasing frees both the global
	// and user 1's slot, so promotion is plain FIFO.
	order := make(chan int64, 2)
	var wg sync.WaitGroup
	enqueue := func(user int64) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Admit(context.Background(), user); err == nil {
				order <- user
			}
		}()
		waitFor(t, func() bool { return c.QueuedFor(user) == 1 })
	}
	enqueue(1)
	enqueue(2)

	c.Release(1)
	first := <-order
	if first != 1 {
		t.Fatalf("first promoted = %d, want FIFO user 1", first)
	}
	c.Release(first)
	if second := <-order; second != 2 {
		t.Fatalf("second promoted = %d, want 2", second)
	}
	wg.Wait()
	c.Release(2)
}

func TestGlobalFairnessAcrossUsers(t *testing.T) {
	// Global slots free up while user 1 is at its per-user cap: the
	// promoter must skip user 1's queued backlog and admit user 2.
	cfg := Config{GlobalCap: 2, PerUserCap: 1, UserQueueCap: 3, MaxWait: time.Second}
	c := New(cfg)
	if err := c.Admit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Admit(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	oneAgain := make(chan error, 1)
	go func() { oneAgain <- c.Admit(context.Background(), 1) }()
	waitFor(t, func() bool { return c.QueuedFor(1) == 1 })

	two := make(chan error, 1)
	go func() { two <- c.Admit(context.Background(), 2) }()
	waitFor(t, func() bool { return c.QueuedFor(2) == 1 })

	// User 3 releases a global slot. User 1's ticket is older but its
	// user is still at cap; user 2 must be admitted over it.
	c.Release(3)
	if err := <-two; err != nil {
		t.Fatalf("user 2 skipped-over promotion failed: %v", err)
	}
	select {
	case <-oneAgain:
		t.Fatal("user 1 admitted past per-user cap")
	case <-time.After(20 * time.Millisecond):
	}

	c.Release(1)
	if err := <-oneAgain; err != nil {
		t.Fatalf("user 1 not promoted after its slot freed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never satisfied")
		}
		time.Sleep(time.Millisecond)
	}
}
