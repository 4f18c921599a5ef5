package socket

import (
	"math"
	"time"
)

// Strategy maps a 1-based reconnect attempt number to a delay.
type Strategy func(attempt int) time.Duration

// Exponential returns base * multiplier^(attempt-1), capped at max.
func Exponential(base time.Duration, multiplier float64, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}

// PowersOfTwo returns 2^attempt seconds, capped at max.
func PowersOfTwo(max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		if attempt > 30 {
			return max
		}
		d := time.Duration(1<<uint(attempt)) * time.Second
		if d > max {
			return max
		}
		return d
	}
}
