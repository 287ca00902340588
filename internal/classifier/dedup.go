package classifier

import (
	"sync"
	"time"
)

const defaultShards = 16

// DefaultTTL is the dedup window from spec §3/§4.G.
const DefaultTTL = 5 * time.Second

type dedupEntry struct {
	opportunityID string
	insertedAt    time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]dedupEntry
}

// Dedup is the sharded fingerprint -> (opportunity-id, inserted-at) set
// described in spec §4.G. The classifier task is the single writer for
// inserts; the submitter clears entries on terminal outcome (I2).
type Dedup struct {
	shards []*shard
	ttl    time.Duration
	mask   uint64

	mu      sync.Mutex
	deduped uint64
}

// NewDedup creates a Dedup set with the default 16-way sharding and 5s TTL.
func NewDedup() *Dedup {
	return NewWithOptions(defaultShards, DefaultTTL)
}

// NewWithOptions allows overriding shard count (must be a power of two) and TTL.
func NewWithOptions(shardCount int, ttl time.Duration) *Dedup {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[uint64]dedupEntry)}
	}
	return &Dedup{shards: shards, ttl: ttl, mask: uint64(shardCount - 1)}
}

func (d *Dedup) shardFor(fp uint64) *shard {
	return d.shards[fp&d.mask]
}

// CheckAndInsert atomically checks whether fp is a live duplicate and, if
// not, inserts it. Returns true when fp was already present within the TTL
// window (the caller should drop the new Opportunity).
func (d *Dedup) CheckAndInsert(fp uint64, opportunityID string, now time.Time) (duplicate bool) {
	s := d.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[fp]; ok {
		if now.Sub(existing.insertedAt) < d.ttl {
			d.incrDeduped()
			return true
		}
		// Expired; fall through and replace it.
	}
	s.entries[fp] = dedupEntry{opportunityID: opportunityID, insertedAt: now}
	return false
}

// Clear removes a fingerprint's entry, called on terminal submission outcome.
func (d *Dedup) Clear(fp uint64) {
	s := d.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fp)
}

// PruneExpired lazily sweeps all shards for entries older than the TTL. It
// is safe to call periodically from a background goroutine; inserts already
// self-prune the specific key they collide with.
func (d *Dedup) PruneExpired(now time.Time) int {
	removed := 0
	for _, s := range d.shards {
		s.mu.Lock()
		for fp, e := range s.entries {
			if now.Sub(e.insertedAt) >= d.ttl {
				delete(s.entries, fp)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (d *Dedup) incrDeduped() {
	d.mu.Lock()
	d.deduped++
	d.mu.Unlock()
}

// DedupedCount returns the running count of drops caused by duplicate
// fingerprints, for the `deduped` metrics counter.
func (d *Dedup) DedupedCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deduped
}
