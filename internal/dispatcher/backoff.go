package dispatcher

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before the next delivery attempt:
// exponential growth from Base, capped at Max, plus uniform jitter so
// a burst of failures does not retry in lockstep.
type BackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     time.Duration
}

// Delay returns the wait after the given attempt number (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) || d < 0 {
		d = float64(p.Max)
	}

	delay := time.Duration(d)
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}
