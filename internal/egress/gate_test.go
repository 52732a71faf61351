package egress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bogdanfinn/tls-client/profiles"
)

func TestGateBoundsConcurrency(t *testing.T) {
	g := NewGate(1, 20*time.Millisecond)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Acquire(context.Background()); !errors.Is(err, ErrGateTimeout) {
		t.Fatalf("err = %v, want ErrGateTimeout", err)
	}
	g.Release()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("slot not freed by release: %v", err)
	}
}

func TestGateObservesCancellation(t *testing.T) {
	g := NewGate(1, time.Minute)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSessionTimeoutFloorsAtOneSecond(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    int
	}{
		{"sub-second", 200 * time.Millisecond, 1},
		{"zero", 0, 1},
		{"whole seconds", 30 * time.Second, 30},
		{"truncates fraction", 2500 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := NewSessionPool(1, time.Second, tt.timeout)
			if got := sp.timeoutSeconds(); got != tt.want {
				t.Errorf("timeoutSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSessionPoolBoundsAndReuses(t *testing.T) {
	sp := NewSessionPool(1, 30*time.Millisecond, time.Second)
	id := &Identity{Name: "direct", Profile: profiles.Chrome_131}

	s1, err := sp.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sp.Get(context.Background(), id); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("err = %v, want ErrAcquireTimeout while pool saturated", err)
	}

	sp.Put(s1)
	s2, err := sp.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if s2 != s1 {
		t.Error("healthy session was not reused")
	}

	s2.MarkBroken()
	sp.Put(s2)
	s3, err := sp.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if s3 == s2 {
		t.Error("broken session was handed out again")
	}
	sp.Put(s3)
}
