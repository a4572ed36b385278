package resilience

import (
	"errors"
	"testing"
	"time"
)

var errStoreDown = errors.New("accounting store unavailable")

func TestClosedBreakerPassesCallsThrough(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected call to reach the backend")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errStoreDown })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerRetriesAfterCoolDown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errStoreDown })
	}

	// Cool-down not over yet, still rejecting.
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)

	// Half-open lets one trial call through.
	called := false
	err = b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected trial call to pass, got %v", err)
	}
	if !called {
		t.Fatal("expected trial call to reach the backend")
	}

	b.mu.Lock()
	if b.state != stateClosed {
		t.Fatalf("expected closed after successful trial call, got %d", b.state)
	}
	b.mu.Unlock()
}

func TestBreakerReopensOnFailedRetry(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errStoreDown })
	}

	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errStoreDown })

	b.mu.Lock()
	if b.state != stateOpen {
		t.Fatalf("expected open after failed trial call, got %d", b.state)
	}
	b.mu.Unlock()

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errStoreDown })
	_ = b.Execute(func() error { return errStoreDown })

	// One success wipes the run of failures.
	_ = b.Execute(func() error { return nil })

	_ = b.Execute(func() error { return errStoreDown })
	_ = b.Execute(func() error { return errStoreDown })

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected call to reach the backend")
	}
}
