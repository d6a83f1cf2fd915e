package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	transient := errors.New("still down")
	calls := 0
	err := Do(context.Background(), fastConfig(4), func() error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("err = %v, want last error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	rejected := errors.New("credentials rejected")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(rejected)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	// Do unwraps the permanent marker for callers.
	if !errors.Is(err, rejected) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Error("permanent marker leaked to the caller")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoDefaultsZeroConfig(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for zero MaxAttempts", calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
