// Package ratelimit guards externally triggerable entry points with
// fixed-window counters. Namespaces partition the key space, so
// exhausting one namespace never affects another even for the same
// underlying identifier.
package ratelimit

import (
	"sync"
	"time"
)

// Rule is the per-namespace limit: at most Limit calls per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is an in-memory namespaced fixed-window limiter. Buckets are
// pruned lazily when touched past their window.
type Limiter struct {
	rules map[string]Rule

	mu      sync.Mutex
	buckets map[string]map[string]*bucket // namespace -> key -> bucket
	now     func() time.Time
}

// New builds a limiter from per-namespace rules. Namespaces without a
// rule are always allowed.
func New(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		buckets: make(map[string]map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether one more call is permitted for (namespace, key)
// within the current window, counting the call when it is.
func (l *Limiter) Allow(namespace, key string) bool {
	rule, ok := l.rules[namespace]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	keys, ok := l.buckets[namespace]
	if !ok {
		keys = make(map[string]*bucket)
		l.buckets[namespace] = keys
	}

	b, ok := keys[key]
	if !ok || !now.Before(b.windowStart.Add(rule.Window)) {
		keys[key] = &bucket{windowStart: now, count: 1}
		return true
	}

	if b.count >= rule.Limit {
		return false
	}
	b.count++
	return true
}

// Prune drops every expired bucket. Optional housekeeping for
// long-running processes with high key cardinality.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ns, keys := range l.buckets {
		rule := l.rules[ns]
		for key, b := range keys {
			if !now.Before(b.windowStart.Add(rule.Window)) {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(l.buckets, ns)
		}
	}
}
