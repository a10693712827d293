package connector

import "time"

// RetryPolicy drives upstream reconnection: progressive backoff with a
// hard attempt ceiling. The zero value disables retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before the given attempt (1-based). Attempt 1
// waits BaseDelay, attempt 2 twice that, and so on.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Exhausted reports whether the attempt counter has hit the ceiling.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
