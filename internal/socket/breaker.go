package socket

import "time"

// breaker blocks dials after Threshold consecutive errors until Cooldown
// elapses. A successful open resets the error count.
type breaker struct {
	cfg         BreakerConfig
	consecutive int
	openUntil   time.Time
}

func (b *breaker) failure(now time.Time) {
	b.consecutive++
	if b.cfg.Threshold > 0 && b.consecutive >= b.cfg.Threshold {
		b.openUntil = now.Add(b.cfg.Cooldown)
	}
}

func (b *breaker) success() {
	b.consecutive = 0
	b.openUntil = time.Time{}
}

func (b *breaker) open(now time.Time) bool {
	return now.Before(b.openUntil)
}
