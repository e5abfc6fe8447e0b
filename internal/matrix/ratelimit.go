package matrix

import (
	"sync"
	"time"
)

const (
	rateWindow      = time.Minute
	cleanupInterval = 10 * time.Minute
)

// senderLimiter caps how many messages per minute each sender may have
// handled. A limit of zero or less disables it.
type senderLimiter struct {
	limit int
	now   func() time.Time

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

func newSenderLimiter(limit int) *senderLimiter {
	return &senderLimiter{
		limit:       limit,
		now:         time.Now,
		senderTimes: make(map[string][]time.Time),
	}
}

func (l *senderLimiter) allow(sender string) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.now()
	cutoff := now.Add(-rateWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeCleanupLocked(now)

	timestamps := l.senderTimes[sender]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= l.limit {
		l.senderTimes[sender] = valid
		return false
	}
	l.senderTimes[sender] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts senders idle for two windows. Must be
// called with l.mu held.
func (l *senderLimiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < cleanupInterval {
		return
	}
	l.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range l.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(l.senderTimes, sender)
		}
	}
}
