package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"trading-bridge/internal/market"
)

const numShards = 16

// ShardedSampleCache holds the most recent market sample per instrument.
// The preflight freshness gate and the dashboard read from it on the hot
// path, so it is sharded to keep tick writers and readers off one lock.
type ShardedSampleCache struct {
	shards [numShards]*sampleShard
}

type sampleShard struct {
	mu    sync.RWMutex
	items map[string]sampleEntry
}

type sampleEntry struct {
	sample    market.Sample
	updatedAt time.Time
}

// NewShardedSampleCache creates a new sharded cache.
func NewShardedSampleCache() *ShardedSampleCache {
	c := &ShardedSampleCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &sampleShard{
			items: make(map[string]sampleEntry),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *ShardedSampleCache) getShard(key string) *sampleShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest sample for an instrument.
func (c *ShardedSampleCache) Set(sample market.Sample) {
	shard := c.getShard(sample.Instrument)
	shard.mu.Lock()
	shard.items[sample.Instrument] = sampleEntry{
		sample:    sample,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get retrieves the latest sample for an instrument.
func (c *ShardedSampleCache) Get(instrument string) (market.Sample, bool) {
	shard := c.getShard(instrument)
	shard.mu.RLock()
	entry, ok := shard.items[instrument]
	shard.mu.RUnlock()
	return entry.sample, ok
}

// GetFresh retrieves the latest sample only if it was stored within maxAge.
func (c *ShardedSampleCache) GetFresh(instrument string, maxAge time.Duration) (market.Sample, bool) {
	shard := c.getShard(instrument)
	shard.mu.RLock()
	entry, ok := shard.items[instrument]
	shard.mu.RUnlock()
	if !ok || time.Since(entry.updatedAt) > maxAge {
		return market.Sample{}, false
	}
	return entry.sample, true
}

// Instruments returns the instruments currently cached.
func (c *ShardedSampleCache) Instruments() []string {
	var out []string
	for i := 0; i < numShards; i++ {
		c.shards[i].mu.RLock()
		for k := range c.shards[i].items {
			out = append(out, k)
		}
		c.shards[i].mu.RUnlock()
	}
	return out
}
