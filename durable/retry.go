package durable

import (
	"time"

	"github.com/goliatone/go-userhooks/core"
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialRetryPolicy doubles the delay per attempt, capped at Max.
type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = core.DefaultInitialBackoff
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = core.DefaultMaxBackoff
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}
