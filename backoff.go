package libstream

import (
	"context"
	"math"
	"time"
)

// BackoffCalculator returns how long to wait before the given attempt.
type BackoffCalculator func(attempts int) time.Duration

func ExponentialBackoff(attempts int) float64 {
	return (math.Pow(2.0, float64(attempts)) - 1) / 2
}

func ExponentialBackoffSeconds(attempts int) time.Duration {
	return time.Duration(ExponentialBackoff(attempts)) * time.Second
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }

// wait sleeps for d or until ctx is done, whichever happens first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
