package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeo-systems/org-platform/internal/apierror"
)

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// newFrozen returns a limiter whose clock starts at testBase and only moves
// when the test advances it.
func newFrozen(evictThreshold int) (*Limiter, *time.Time) {
	l := New(evictThreshold)
	now := testBase
	l.now = func() time.Time { return now }
	return l, &now
}

func TestEnforce_AllowsThenRejectsAtLimit(t *testing.T) {
	l, _ := newFrozen(0)
	parts := []string{"42", "key-1"}

	for i := 0; i < 5; i++ {
		require.Nil(t, l.Enforce(ScopeAPIKey, parts, 5, time.Minute, "too many requests"), "hit %d should pass", i+1)
	}

	err := l.Enforce(ScopeAPIKey, parts, 5, time.Minute, "too many requests")
	require.NotNil(t, err)
	assert.Equal(t, apierror.CodeRateLimit, err.Code)
	assert.Equal(t, "too many requests", err.Message)
	assert.GreaterOrEqual(t, err.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, err.RetryAfterSeconds, 60)
}

func TestEnforce_WindowExpiryReAllows(t *testing.T) {
	l, now := newFrozen(0)
	parts := []string{"42", "key-1"}

	require.Nil(t, l.Enforce(ScopeAPIKey, parts, 1, time.Minute, "limit"))
	require.NotNil(t, l.Enforce(ScopeAPIKey, parts, 1, time.Minute, "limit"))

	*now = now.Add(61 * time.Second)
	assert.Nil(t, l.Enforce(ScopeAPIKey, parts, 1, time.Minute, "limit"), "new window should admit again")
}

func TestEnforce_DisabledWhenLimitNonPositive(t *testing.T) {
	l, _ := newFrozen(0)
	for i := 0; i < 1000; i++ {
		require.Nil(t, l.Enforce(ScopeAPIKey, []string{"x"}, 0, time.Minute, "limit"))
		require.Nil(t, l.Enforce(ScopeAPIKey, []string{"x"}, -1, time.Minute, "limit"))
	}
	assert.Equal(t, 0, l.Len(), "disabled checks must not allocate buckets")
}

func TestEnforce_ScopesAreIndependent(t *testing.T) {
	l, _ := newFrozen(0)
	parts := []string{"same-identity"}

	require.Nil(t, l.Enforce(ScopeAPIKey, parts, 1, time.Minute, "limit"))
	require.NotNil(t, l.Enforce(ScopeAPIKey, parts, 1, time.Minute, "limit"))

	// Saturating one scope leaves the others untouched.
	assert.Nil(t, l.Enforce(ScopeLogin, parts, 1, time.Minute, "limit"))
	assert.Nil(t, l.Enforce(ScopeIP, parts, 1, time.Minute, "limit"))
}

func TestEnforce_IdentityNormalization(t *testing.T) {
	l, _ := newFrozen(0)

	require.Nil(t, l.Enforce(ScopeLogin, []string{"User@Example.Com"}, 1, time.Minute, "limit"))
	// Same identity after normalization shares the bucket.
	assert.NotNil(t, l.Enforce(ScopeLogin, []string{"  user@example.com  "}, 1, time.Minute, "limit"))
	// A genuinely different identity does not.
	assert.Nil(t, l.Enforce(ScopeLogin, []string{"other@example.com"}, 1, time.Minute, "limit"))
}

func TestEnforce_EvictsExpiredBuckets(t *testing.T) {
	l, now := newFrozen(10)

	for i := 0; i < 10; i++ {
		require.Nil(t, l.Enforce(ScopeIP, []string{fmt.Sprintf("10.0.0.%d", i)}, 100, time.Minute, "limit"))
	}
	require.Equal(t, 10, l.Len())

	// All ten windows have expired; the next insert at the threshold sweeps
	// them instead of growing the table.
	*now = now.Add(2 * time.Minute)
	require.Nil(t, l.Enforce(ScopeIP, []string{"10.0.1.1"}, 100, time.Minute, "limit"))
	assert.Equal(t, 1, l.Len())
}

func TestReset(t *testing.T) {
	l, _ := newFrozen(0)
	require.Nil(t, l.Enforce(ScopeAPIKey, []string{"a"}, 1, time.Minute, "limit"))
	require.NotNil(t, l.Enforce(ScopeAPIKey, []string{"a"}, 1, time.Minute, "limit"))

	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Enforce(ScopeAPIKey, []string{"a"}, 1, time.Minute, "limit"))
}

func TestEnforce_ConcurrentExactness(t *testing.T) {
	l := New(0)
	const limit = 50
	const attempts = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Enforce(ScopeAPIKey, []string{"7", "key-7"}, limit, time.Hour, "limit") == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted, "exactly limit hits admitted inside one window")
}
