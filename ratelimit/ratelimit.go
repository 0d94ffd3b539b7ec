// Package ratelimit implements the per-client token-bucket Rate Limiter.
// Each client gets its own golang.org/x/time/rate.Limiter; idle buckets are
// pruned periodically. An optional cluster coordinator synchronizes a
// shared deny-until marker across processes via goa.design/pulse/rmap, so a
// client denied on one process instance is denied on all of them until the
// window passes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes the per-client token bucket.
type Config struct {
	RatePerSecond float64
	Burst         int
	IdleTTL       time.Duration
}

// DefaultConfig matches the burst=20, rate=10/s scenario named in the
// spec's end-to-end test table.
func DefaultConfig() Config {
	return Config{RatePerSecond: 10, Burst: 20, IdleTTL: 10 * time.Minute}
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is the per-client token-bucket rate limiter. It holds one
// private mutex guarding its bucket map, per the gateway's locking
// discipline.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config
	cluster Coordinator

	stop    chan struct{}
	stopped chan struct{}
}

// Coordinator synchronizes rate-limit posture across processes. See
// cluster.go for the pulse/rmap-backed implementation; nil means
// process-local only.
type Coordinator interface {
	// Denied reports whether the cluster considers clientID currently
	// denied, and until when.
	Denied(ctx context.Context, clientID string) (until time.Time, denied bool)
	// MarkDenied records that clientID was denied locally, for other
	// processes to observe.
	MarkDenied(ctx context.Context, clientID string, until time.Time)
}

// New constructs a Limiter. cluster may be nil for a process-local-only
// deployment.
func New(cfg Config, cluster Coordinator) *Limiter {
	if cfg.RatePerSecond <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		cluster: cluster,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Result is the outcome of an Allow check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Allow consumes one token for clientID, returning whether the call is
// admitted and, when denied, the Retry-After duration the HTTP boundary
// must surface.
func (l *Limiter) Allow(ctx context.Context, clientID string) Result {
	if l.cluster != nil {
		if until, denied := l.cluster.Denied(ctx, clientID); denied {
			return Result{Allowed: false, RetryAfter: time.Until(until)}
		}
	}

	l.mu.Lock()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst)}
		l.buckets[clientID] = b
	}
	b.lastAccess = time.Now()
	reservation := b.limiter.ReserveN(time.Now(), 1)
	l.mu.Unlock()

	if !reservation.OK() {
		return Result{Allowed: false, RetryAfter: time.Second}
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return Result{Allowed: true}
	}
	reservation.Cancel()
	if l.cluster != nil {
		l.cluster.MarkDenied(ctx, clientID, time.Now().Add(delay))
	}
	return Result{Allowed: false, RetryAfter: delay}
}

// Run starts the idle-bucket cleanup sweep.
func (l *Limiter) Run() {
	ttl := l.cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultConfig().IdleTTL
	}
	go func() {
		defer close(l.stopped)
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-t.C:
				l.pruneIdle(ttl)
			}
		}
	}()
}

// Shutdown stops the idle-bucket cleanup sweep.
func (l *Limiter) Shutdown() {
	close(l.stop)
	<-l.stopped
}

func (l *Limiter) pruneIdle(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
