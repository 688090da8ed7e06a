package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostState tracks one host's concurrency permits and request spacing
type hostState struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	nextSlot    time.Time // earliest start time for the next request
	lastRelease time.Time // zero if never released
}

// HostLimiter bounds concurrent requests per host and spaces request starts
// to the same host by at least delay. One limiter is shared by the crawl
// stages and the download pool so the limits hold across the whole run.
type HostLimiter struct {
	hosts map[string]*hostState
	mu    sync.Mutex
	limit int64
	delay time.Duration
	log   *logrus.Entry
}

// NewHostLimiter creates a limiter allowing maxPerHost concurrent requests per host
func NewHostLimiter(maxPerHost int, delay time.Duration, log *logrus.Entry) *HostLimiter {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	if delay < 0 {
		delay = 0
	}
	return &HostLimiter{
		hosts: make(map[string]*hostState),
		limit: limit,
		delay: delay,
		log:   log,
	}
}

// Acquire blocks until a permit for host is free and the politeness delay has passed.
// The returned release must be called exactly once when the request is done.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	l.mu.Lock()
	st, exists := l.hosts[host]
	if !exists {
		st = &hostState{sem: semaphore.NewWeighted(l.limit)}
		l.hosts[host] = st
		l.log.WithFields(logrus.Fields{"host": host, "limit": l.limit}).Debug("Created new host limiter entry")
	}
	st.activeCount++
	l.mu.Unlock()

	if err := st.sem.Acquire(ctx, 1); err != nil {
		l.rollback(st)
		return nil, err
	}

	if wait := l.reserveSlot(st); wait > 0 {
		l.log.WithFields(logrus.Fields{"host": host, "sleep": wait}).Debug("Host delay applying sleep")
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			st.sem.Release(1)
			l.rollback(st)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			st.activeCount--
			st.lastRelease = time.Now()
			l.mu.Unlock()
			st.sem.Release(1)
		})
	}, nil
}

// reserveSlot books the next start time for the host and returns how long to wait for it
func (l *HostLimiter) reserveSlot(st *hostState) time.Duration {
	if l.delay <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	start := now
	if st.nextSlot.After(now) {
		start = st.nextSlot
	}
	st.nextSlot = start.Add(addJitter(l.delay))
	return start.Sub(now)
}

func (l *HostLimiter) rollback(st *hostState) {
	l.mu.Lock()
	st.activeCount--
	l.mu.Unlock()
}

// RunEviction periodically removes idle host entries. Should be run in a goroutine.
func (l *HostLimiter) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(interval)
		case <-ctx.Done():
			l.log.Debugf("Stopping host limiter eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries with no permits in use that were released more than maxIdle ago
func (l *HostLimiter) evictIdle(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, st := range l.hosts {
		if st.activeCount == 0 && !st.lastRelease.IsZero() && now.Sub(st.lastRelease) >= maxIdle && !st.nextSlot.After(now) {
			delete(l.hosts, host)
			evicted++
		}
	}
	if evicted > 0 {
		l.log.Debugf("Evicted %d idle host entries, %d remain", evicted, len(l.hosts))
	}
}

// Len returns the current number of tracked hosts.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}
