// Package ratelimit provides a per-tenant fixed-window rate limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter bounds how many usage events a tenant may submit per window.
// It owns its state and is injected wherever ingestion happens.
type Limiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	items  map[string]*entry
}

type entry struct {
	windowStart time.Time
	count       int
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*entry),
	}
}

// Allow reports whether the tenant may spend cost units in the current
// window, and consumes them if so.
func (l *Limiter) Allow(tenantID string, cost int) bool {
	if tenantID == "" {
		return false
	}
	if cost <= 0 {
		cost = 1
	}

	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.items[tenantID]
	if e == nil || now.Sub(e.windowStart) > l.window {
		e = &entry{windowStart: now}
		l.items[tenantID] = e
	}

	if e.count+cost > l.limit {
		return false
	}

	e.count += cost
	return true
}
