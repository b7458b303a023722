package outbox

import "time"

// Backoff computes retry delays: delay_minutes = min(2^retryCount, cap).
// The delay is monotonically non-decreasing in retryCount and never
// exceeds the cap.
type Backoff struct {
	capMinutes int
}

// NewBackoff creates a bounded exponential backoff with the given cap
// in minutes.
func NewBackoff(capMinutes int) Backoff {
	if capMinutes < 1 {
		capMinutes = 1
	}
	return Backoff{capMinutes: capMinutes}
}

// Delay returns how long to wait before the attempt after retryCount
// consecutive failures.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^retryCount overflows quickly; past 30 doublings the cap has
	// long been reached anyway.
	if retryCount > 30 {
		return time.Duration(b.capMinutes) * time.Minute
	}

	minutes := 1 << uint(retryCount)
	if minutes > b.capMinutes {
		minutes = b.capMinutes
	}
	return time.Duration(minutes) * time.Minute
}
