// Package ratelimit implements fixed-window request counting keyed by
// (category, client identifier), with background eviction of expired windows.
//
// This is a single-instance, in-memory limiter intended for basic abuse
// prevention on one server. Counters are not shared across processes or
// nodes; several instances behind a load balancer count independently. It
// does not protect against distributed attacks or bandwidth-bill attacks.
package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/log"
)

// Category names used by the dispatcher's path classification.
const (
	CategoryAuth    = "auth"
	CategoryAPI     = "api"
	CategoryGeneral = "general"
)

// Category is a capacity/window pair for one class of endpoint.
type Category struct {
	Capacity int
	Window   time.Duration
}

// Result is the outcome of one Check call. Limit/Remaining/ResetAt feed the
// X-RateLimit-* response headers on every checked request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// entry is one fixed-window counter, mutated in place under the bucket lock.
type entry struct {
	count   int
	resetAt time.Time
}

// bucket holds all entries for a single category. Cleanup locks one bucket
// at a time so a sweep never blocks request handling for longer than a
// single bucket scan.
type bucket struct {
	mu      sync.Mutex
	cat     Category
	entries map[string]*entry
}

type Limiter struct {
	buckets map[string]*bucket

	// now is swappable for tests
	now func() time.Time

	// OnDenied is called on every denied request (metrics hook).
	OnDenied func(category, identifier string)
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(category, identifier string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// New creates a Limiter for the given categories and starts the background
// cleanup goroutine, which stops when ctx is cancelled.
func New(ctx context.Context, categories map[string]Category, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket, len(categories)),
		now:     time.Now,
	}
	for name, cat := range categories {
		l.buckets[name] = &bucket{cat: cat, entries: make(map[string]*entry)}
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// Check counts one request against the (category, identifier) window.
// Unknown categories are allowed through unconditionally.
func (l *Limiter) Check(ctx context.Context, category, identifier string) Result {
	b, ok := l.buckets[category]
	if !ok {
		return Result{Allowed: true, Limit: 0, Remaining: 0, ResetAt: l.now()}
	}

	now := l.now()
	cap := b.cat.Capacity

	b.mu.Lock()
	e, exists := b.entries[identifier]
	if !exists || now.After(e.resetAt) {
		// fresh window
		b.entries[identifier] = &entry{count: 1, resetAt: now.Add(b.cat.Window)}
		reset := b.entries[identifier].resetAt
		b.mu.Unlock()
		return Result{Allowed: true, Limit: cap, Remaining: cap - 1, ResetAt: reset}
	}

	if e.count >= cap {
		// clamp so the counter never drifts past capacity+1
		e.count = cap + 1
		attempts := e.count
		reset := e.resetAt
		b.mu.Unlock()

		log.FromContext(ctx).Warn(ctx, "rate limit exceeded",
			"category", category,
			"identifier", identifier,
			"limit", cap,
			"attempts", attempts,
		)
		if l.OnDenied != nil {
			l.OnDenied(category, identifier)
		}
		return Result{Allowed: false, Limit: cap, Remaining: 0, ResetAt: reset}
	}

	e.count++
	remaining := cap - e.count
	reset := e.resetAt
	b.mu.Unlock()
	return Result{Allowed: true, Limit: cap, Remaining: remaining, ResetAt: reset}
}

// cleanup periodically evicts entries whose window has passed. Each tick
// locks one bucket at a time, keeping the pause per bucket bounded.
func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	now := l.now()
	for _, b := range l.buckets {
		b.mu.Lock()
		for id, e := range b.entries {
			if now.After(e.resetAt) {
				delete(b.entries, id)
			}
		}
		b.mu.Unlock()
	}
}

// SetHeaders writes the client-visible limit headers for a checked request,
// allowed or denied.
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// Deny writes the 429 response: Retry-After plus a small JSON body. The
// caller is expected to have set rate-limit and correlation headers already.
func Deny(w http.ResponseWriter, res Result, now time.Time) {
	retryAfter := int(res.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      "rate_limit_exceeded",
		"message":    "too many requests, slow down",
		"retryAfter": retryAfter,
	})
}
