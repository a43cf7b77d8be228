// Package limiter applies per-actor backpressure ahead of the service
// pipeline.
//
// Two stores exist: an in-process token bucket per actor fingerprint and
// a Redis-backed variant that refills and consumes atomically in a Lua
// script. A nil limiter means no limiting; limiter errors fail open so a
// broken Redis never blocks all traffic.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy bounds request rates.
type Policy struct {
	// RPM is the sustained request budget per minute.
	RPM int
	// Burst is the instantaneous bucket capacity.
	Burst int
}

// DefaultPolicy matches the service default of 600 requests per minute.
func DefaultPolicy() Policy {
	return Policy{RPM: 600, Burst: 60}
}

func (p Policy) perSecond() rate.Limit {
	if p.RPM <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(p.RPM) / 60.0)
}

// Limiter answers whether one actor may proceed.
type Limiter interface {
	Allow(ctx context.Context, fingerprint string) (bool, error)
}

// visitor pairs a limiter with its last activity for eviction.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory is the in-process limiter: one token bucket per fingerprint,
// idle buckets evicted in the background.
type Memory struct {
	mu       sync.Mutex
	policy   Policy
	visitors map[string]*visitor
	now      func() time.Time
}

// NewMemory starts an in-process limiter. The eviction loop stops when
// ctx is cancelled.
func NewMemory(ctx context.Context, policy Policy) *Memory {
	m := &Memory{
		policy:   policy,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
	go m.evictLoop(ctx)
	return m
}

func (m *Memory) Allow(_ context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[fingerprint]
	if !ok {
		burst := m.policy.Burst
		if burst < 1 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(m.policy.perSecond(), burst)}
		m.visitors[fingerprint] = v
	}
	v.lastSeen = m.now()
	return v.limiter.Allow(), nil
}

func (m *Memory) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := m.now().Add(-3 * time.Minute)
			m.mu.Lock()
			for fp, v := range m.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(m.visitors, fp)
				}
			}
			m.mu.Unlock()
		}
	}
}
