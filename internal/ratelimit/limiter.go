package ratelimit

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeo-systems/org-platform/internal/apierror"
)

const (
	// Scopes used across the gateway. Independent scopes compose
	// additively: each Enforce call can reject on its own. ScopeAPIKey is
	// the one enforced here; ScopeLogin and ScopeIP are reserved for the
	// session and edge collaborators that share this limiter.
	ScopeAPIKey = "api_key"
	ScopeLogin  = "login"
	ScopeIP     = "ip"

	maxPartLen  = 128
	missingPart = "-"

	// DefaultEvictThreshold bounds the bucket table before a passive
	// sweep of expired windows runs.
	DefaultEvictThreshold = 10000
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is an in-process fixed-window counter keyed by (scope, identity).
// State is process-local by design: each replica enforces its own window,
// which is acceptable looseness for an abuse guard. Billing-accurate quota
// lives in the ledger, not here.
//
// Limiter is an injected component, constructed once per server instance,
// never a package-level singleton.
type Limiter struct {
	mu             sync.Mutex
	buckets        map[uint64]*bucket
	evictThreshold int
	now            func() time.Time
}

// New returns a Limiter. evictThreshold <= 0 selects the default.
func New(evictThreshold int) *Limiter {
	if evictThreshold <= 0 {
		evictThreshold = DefaultEvictThreshold
	}
	return &Limiter{
		buckets:        make(map[uint64]*bucket),
		evictThreshold: evictThreshold,
		now:            time.Now,
	}
}

// Enforce counts one hit against the (scope, identityParts) bucket and
// rejects with RATE_LIMIT once limit is reached inside the current window.
// A limit <= 0 disables the check. Windows are fixed, not sliding; the
// looseness at window edges is a deliberate approximation.
func (l *Limiter) Enforce(scope string, identityParts []string, limit int, window time.Duration, message string) *apierror.Error {
	if limit <= 0 {
		return nil
	}
	key := bucketKey(scope, identityParts)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		if len(l.buckets) >= l.evictThreshold {
			l.evictExpiredLocked(now)
		}
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(window)}
		return nil
	}
	if b.count >= limit {
		retry := int((b.resetAt.Sub(now) + time.Second - 1) / time.Second)
		return apierror.RateLimit(message, retry)
	}
	b.count++
	return nil
}

// Reset clears all buckets. Test-only; production code never calls it.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[uint64]*bucket)
}

// Len reports the bucket count, for eviction tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) evictExpiredLocked(now time.Time) {
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}

// bucketKey hashes scope plus normalized identity parts so keys stay
// fixed-size and raw identifiers never sit in the map.
func bucketKey(scope string, parts []string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(scope))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(normalizePart(p)))
	}
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(parts))))
	return h.Sum64()
}

func normalizePart(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return missingPart
	}
	if len(p) > maxPartLen {
		p = p[:maxPartLen]
	}
	return p
}
