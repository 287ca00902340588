package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageWindow_PercentilesOrderedAndWithinRange(t *testing.T) {
	w := &stageWindow{}
	now := time.Now()
	for i := int64(1); i <= 100; i++ {
		w.observe(i*1_000_000, now)
	}
	p := w.percentilesSince(now.Add(-time.Second))
	assert.True(t, p.P50 <= p.P90)
	assert.True(t, p.P90 <= p.P99)
	assert.True(t, p.P50 > 0)
}

func TestStageWindow_ExcludesSamplesOlderThanCutoff(t *testing.T) {
	w := &stageWindow{}
	now := time.Now()
	w.observe(5_000_000, now.Add(-2*time.Minute))
	p := w.percentilesSince(now.Add(-time.Minute))
	assert.Equal(t, LatencyPercentiles{}, p)
}

func TestLatencyHub_WindowedSnapshotSeparatesStages(t *testing.T) {
	h := newLatencyHub()
	h.observe("advisor", 10_000_000)
	h.observe("bundle", 20_000_000)

	snap := h.WindowedSnapshot()
	_, hasAdvisor := snap["advisor"]
	_, hasBundle := snap["bundle"]
	assert.True(t, hasAdvisor)
	assert.True(t, hasBundle)
	assert.True(t, snap["advisor"].OneSecond.P50 > 0)
}
