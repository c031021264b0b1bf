// Package ratelimit provides per-source admission control for outbound
// provider requests. Each source has an independent requests-per-minute
// budget tracked over an exact rolling window, so no more than the
// configured number of fetches can be admitted in any 60-second span.
package ratelimit

import (
	"sync"
	"time"
)

const window = time.Minute

// Decision is the outcome of an admission check.
type Decision struct {
	Granted bool
	// RetryAt is when the oldest in-window admission falls out of the
	// window; meaningful only when Granted is false.
	RetryAt time.Time
}

// Limiter tracks admission windows for a fixed set of sources. Admission
// checks for one source serialize on that source's lock; different
// sources never contend.
type Limiter struct {
	mu      sync.RWMutex
	sources map[string]*sourceWindow
	now     func() time.Time
}

type sourceWindow struct {
	mu     sync.Mutex
	limit  int
	admits []time.Time
}

// New creates a limiter with the given per-source requests-per-minute
// limits. Limits are fixed at construction; a source with limit <= 0 is
// never admitted.
func New(limits map[string]int) *Limiter {
	l := &Limiter{
		sources: make(map[string]*sourceWindow, len(limits)),
		now:     time.Now,
	}
	for source, limit := range limits {
		l.sources[source] = &sourceWindow{limit: limit}
	}
	return l
}

// Admit checks whether one request to source may proceed now. A granted
// admission is consumed immediately; there is no separate reserve step, so
// concurrent callers cannot double-admit past the limit.
func (l *Limiter) Admit(source string) Decision {
	l.mu.RLock()
	sw := l.sources[source]
	l.mu.RUnlock()
	if sw == nil {
		return Decision{}
	}

	now := l.now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.prune(now)

	if sw.limit <= 0 || len(sw.admits) >= sw.limit {
		d := Decision{}
		if len(sw.admits) > 0 {
			d.RetryAt = sw.admits[0].Add(window)
		}
		return d
	}

	sw.admits = append(sw.admits, now)
	return Decision{Granted: true}
}

// Window reports how many admissions are currently inside the rolling
// window for source, and the configured limit.
func (l *Limiter) Window(source string) (used, limit int) {
	l.mu.RLock()
	sw := l.sources[source]
	l.mu.RUnlock()
	if sw == nil {
		return 0, 0
	}

	now := l.now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.prune(now)
	return len(sw.admits), sw.limit
}

// prune drops admissions older than the window. Caller holds sw.mu.
func (sw *sourceWindow) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(sw.admits) && !sw.admits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.admits = append(sw.admits[:0], sw.admits[i:]...)
	}
}
