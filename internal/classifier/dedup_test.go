package classifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_CheckAndInsertFirstIsNotDuplicate(t *testing.T) {
	d := NewDedup()
	dup := d.CheckAndInsert(42, "opp-1", time.Now())
	assert.False(t, dup)
}

func TestDedup_SecondWithinTTLIsDuplicate(t *testing.T) {
	d := NewDedup()
	now := time.Now()
	d.CheckAndInsert(42, "opp-1", now)
	dup := d.CheckAndInsert(42, "opp-2", now.Add(time.Second))
	assert.True(t, dup)
	assert.Equal(t, uint64(1), d.DedupedCount())
}

func TestDedup_AfterClearNotDuplicate(t *testing.T) {
	d := NewDedup()
	now := time.Now()
	d.CheckAndInsert(42, "opp-1", now)
	d.Clear(42)
	dup := d.CheckAndInsert(42, "opp-2", now.Add(time.Second))
	assert.False(t, dup)
}

func TestDedup_PruneExpiredRemovesOldEntries(t *testing.T) {
	d := NewDedup()
	now := time.Now()
	d.CheckAndInsert(1, "opp-1", now)
	removed := d.PruneExpired(now.Add(10 * time.Second))
	assert.Equal(t, 1, removed)
}

func TestDedup_ConcurrentInsertsOnlyOneWins(t *testing.T) {
	d := NewDedup()
	now := time.Now()
	var wg sync.WaitGroup
	results := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.CheckAndInsert(7, "opp", now)
		}(i)
	}
	wg.Wait()

	dupCount := 0
	for _, r := range results {
		if r {
			dupCount++
		}
	}
	assert.Equal(t, 99, dupCount)
}
