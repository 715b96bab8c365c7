package stream

import "time"

// maxBackoffAttempt caps the attempt counter so the computed delay
// never exceeds maxBackoffDelay.
const maxBackoffAttempt = 5

const maxBackoffDelay = 30 * time.Second

// backoffDelay returns the reconnect delay for the given attempt count:
// 1s, 2s, 4s, 8s, 16s, then 30s forever. The counter resets to zero on
// any successful open, so a recovered session is never penalized.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoffDelay {
		d = maxBackoffDelay
	}
	return d
}
