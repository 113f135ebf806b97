package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BreachExactlyAtMaxPlusBurst(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: time.Minute, Burst: 0, Enabled: true})
	now := time.Now()

	require.NoError(t, l.Check("alice", now))
	require.NoError(t, l.Check("alice", now))

	err := l.Check("alice", now)
	require.Error(t, err)
	var denied *Denied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 2, denied.Limit)
	assert.GreaterOrEqual(t, denied.RetryAfterSecond, 1)
}

func TestLimiter_OneRequestBelowLimitSucceeds(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: time.Minute, Burst: 1, Enabled: true})
	now := time.Now()
	// effective limit = 3
	require.NoError(t, l.Check("bob", now))
	require.NoError(t, l.Check("bob", now))
	require.NoError(t, l.Check("bob", now)) // 3rd allowed (max+burst-1 requests succeeded so far == 2, this is the 3rd)
	err := l.Check("bob", now)
	require.Error(t, err)
}

func TestLimiter_OldEntriesExpireWithoutTimers(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Second, Burst: 0, Enabled: true})
	base := time.Now()
	require.NoError(t, l.Check("carol", base))
	require.Error(t, l.Check("carol", base))

	later := base.Add(2 * time.Second)
	require.NoError(t, l.Check("carol", later), "entry older than window must not count")
}

func TestLimiter_DisabledShortCircuits(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Minute, Enabled: false})
	now := time.Now()
	require.NoError(t, l.Check("dave", now))
	require.NoError(t, l.Check("dave", now))
}

func TestLimiter_DualRateLimitScenario(t *testing.T) {
	perIP := New(Config{MaxRequests: 2, Window: time.Minute, Burst: 0, Enabled: true})
	now := time.Now()

	require.NoError(t, perIP.Check("1.2.3.4", now))
	require.NoError(t, perIP.Check("1.2.3.4", now))
	err := perIP.Check("1.2.3.4", now)
	require.Error(t, err)
	var denied *Denied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 2, denied.Limit)
}

func TestClientKey_PrefersLeftmostForwardedFor(t *testing.T) {
	assert.Equal(t, "203.0.113.5", ClientKey("203.0.113.5, 10.0.0.1", "10.0.0.1:1234"))
	assert.Equal(t, "10.0.0.1:1234", ClientKey("", "10.0.0.1:1234"))
	assert.Equal(t, "unknown", ClientKey("", ""))
}

func TestLimiter_ResetClearsWindow(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Minute, Enabled: true})
	now := time.Now()
	require.NoError(t, l.Check("erin", now))
	require.Error(t, l.Check("erin", now))
	l.Reset("erin")
	require.NoError(t, l.Check("erin", now))
}
