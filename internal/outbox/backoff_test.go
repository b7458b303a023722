package outbox_test

import (
	"testing"
	"time"

	"github.com/septivank/meter-sync-worker/internal/outbox"
)

func TestBackoff_DoublingSequence(t *testing.T) {
	backoff := outbox.NewBackoff(60)

	expected := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		32 * time.Minute,
	}

	for retryCount, want := range expected {
		got := backoff.Delay(retryCount)
		if got != want {
			t.Errorf("Delay(%d) = %v, expected %v", retryCount, got, want)
		}
	}
}

func TestBackoff_CappedAtMaximum(t *testing.T) {
	backoff := outbox.NewBackoff(60)

	// 2^6 = 64 exceeds the cap.
	if got := backoff.Delay(6); got != 60*time.Minute {
		t.Errorf("Delay(6) = %v, expected cap of 60m", got)
	}
	if got := backoff.Delay(20); got != 60*time.Minute {
		t.Errorf("Delay(20) = %v, expected cap of 60m", got)
	}
}

func TestBackoff_LargeRetryCountDoesNotOverflow(t *testing.T) {
	backoff := outbox.NewBackoff(60)

	if got := backoff.Delay(100); got != 60*time.Minute {
		t.Errorf("Delay(100) = %v, expected cap of 60m", got)
	}
}

func TestBackoff_NegativeRetryCount(t *testing.T) {
	backoff := outbox.NewBackoff(60)

	if got := backoff.Delay(-1); got != 1*time.Minute {
		t.Errorf("Delay(-1) = %v, expected 1m", got)
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	backoff := outbox.NewBackoff(60)

	prev := time.Duration(0)
	for retryCount := 0; retryCount < 12; retryCount++ {
		got := backoff.Delay(retryCount)
		if got < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", retryCount, got, prev)
		}
		prev = got
	}
}
