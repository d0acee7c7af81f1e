package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5}, func(int) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 4, Delay: time.Microsecond}, func(int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want ErrExhausted wrapping errBoom", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 10}, func(int) error {
		calls++
		return Permanent(errBoom)
	})
	if err != errBoom {
		t.Fatalf("err = %v, want errBoom unwrapped", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("permanent failure must not report exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, Delay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestForeverRetriesUntilSuccess(t *testing.T) {
	var seen []int
	err := Forever(context.Background(), 0, func(attempt int) error {
		if attempt < 7 {
			return errBoom
		}
		return nil
	}, func(attempt int, err error) {
		seen = append(seen, attempt)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 6 {
		t.Errorf("onError called %d times, want 6", len(seen))
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 paced calls took %v, want >= 40ms", elapsed)
	}
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer(0)
	for i := 0; i < 100; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}
