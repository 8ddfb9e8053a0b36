// Package cache implements the sharded out-of-order result buffer.
package cache

import (
	"crypto/md5"
	"encoding/binary"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// ShardedResultCache maps task id to Result across fixed shards, each with
// its own mutex and LRU bound. Lock acquisition never crosses shards.
type ShardedResultCache struct {
	shards      []*shard
	shardCount  int
	maxPerShard int
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *types.Result]
}

// NewShardedResultCache creates a cache of shardCount shards bounded to
// maxPerShard entries each.
func NewShardedResultCache(shardCount, maxPerShard int) *ShardedResultCache {
	if shardCount < 1 {
		shardCount = 1
	}
	if maxPerShard < 1 {
		maxPerShard = 1
	}
	c := &ShardedResultCache{
		shards:      make([]*shard, shardCount),
		shardCount:  shardCount,
		maxPerShard: maxPerShard,
	}
	for i := range c.shards {
		l, _ := simplelru.NewLRU[string, *types.Result](maxPerShard, nil)
		c.shards[i] = &shard{lru: l}
	}
	return c
}

// shardIndex routes a task id to its shard: MD5 of the id, low 4 bytes,
// little-endian, mod shard count.
func (c *ShardedResultCache) shardIndex(taskID string) int {
	sum := md5.Sum([]byte(taskID))
	return int(binary.LittleEndian.Uint32(sum[:4]) % uint32(c.shardCount))
}

// Put inserts a result as most-recently-used. The shard evicts its
// least-recently-used entry when over capacity.
func (c *ShardedResultCache) Put(taskID string, result *types.Result) {
	s := c.shards[c.shardIndex(taskID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(taskID, result)
}

// Get removes and returns the entry for taskID, or nil. The caller is the
// final recipient, so a hit consumes the entry.
func (c *ShardedResultCache) Get(taskID string) *types.Result {
	s := c.shards[c.shardIndex(taskID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.lru.Peek(taskID); ok {
		s.lru.Remove(taskID)
		return res
	}
	return nil
}

// Size returns the total entry count across shards.
func (c *ShardedResultCache) Size() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.lru.Len()
		s.mu.Unlock()
	}
	return total
}

// Clear empties every shard.
func (c *ShardedResultCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.lru.Purge()
		s.mu.Unlock()
	}
}

// ShardSizes returns the per-shard entry counts.
func (c *ShardedResultCache) ShardSizes() []int {
	sizes := make([]int, c.shardCount)
	for i, s := range c.shards {
		s.mu.Lock()
		sizes[i] = s.lru.Len()
		s.mu.Unlock()
	}
	return sizes
}

// Status returns a component snapshot.
func (c *ShardedResultCache) Status() types.ComponentStatus {
	return types.ComponentStatus{
		Name:   "result_cache",
		Health: types.HealthHealthy,
		Metrics: map[string]any{
			"size":          c.Size(),
			"shard_count":   c.shardCount,
			"max_per_shard": c.maxPerShard,
		},
	}
}
