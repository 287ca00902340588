package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroJitter() float64 { return 0 }

func TestNextDelay_MonotonicUpToCap(t *testing.T) {
	p := AdvisorPolicy()
	var prev time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		d := p.NextDelayRand(attempt, zeroJitter)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Cap)
		prev = d
	}
}

func TestNextDelay_JitterBounded(t *testing.T) {
	p := AdvisorPolicy()
	base := p.NextDelayRand(3, zeroJitter)
	withJitter := p.NextDelayRand(3, func() float64 { return 1 })
	require.GreaterOrEqual(t, withJitter, base)
	assert.LessOrEqual(t, float64(withJitter-base), float64(base)*0.10+1)
}

func TestCanRetry_BoundedPolicy(t *testing.T) {
	p := RateLimitedPolicy()
	assert.True(t, p.CanRetry(0))
	assert.True(t, p.CanRetry(2))
	assert.False(t, p.CanRetry(3))
}

func TestCanRetry_UnboundedPolicy(t *testing.T) {
	p := StreamerPolicy()
	assert.True(t, p.CanRetry(1000))
}

func TestCounter_ResetsOnSuccess(t *testing.T) {
	c := NewCounter(AdvisorPolicy())
	c.Next()
	c.Next()
	assert.Equal(t, 2, c.Attempt())
	c.Reset()
	assert.Equal(t, 0, c.Attempt())
	assert.True(t, c.CanRetry())
}

func TestCounter_ExhaustsAttempts(t *testing.T) {
	c := NewCounter(RateLimitedPolicy())
	for i := 0; i < 3; i++ {
		require.True(t, c.CanRetry())
		c.Next()
	}
	assert.False(t, c.CanRetry())
}
