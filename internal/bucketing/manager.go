package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"security-intel/internal/config"
)

// BucketingManager assigns grouping keys to hash partitions and events to
// hour buckets.
type BucketingManager struct {
	partitions int
	hasherPool sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return NewBucketingManagerN(cfg.Bucketing.Partitions)
}

// NewBucketingManagerN creates a manager with n partitions (minimum 1).
func NewBucketingManagerN(n int) *BucketingManager {
	if n < 1 {
		n = 1
	}
	bm := &BucketingManager{partitions: n}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// Partitions returns the number of partitions.
func (bm *BucketingManager) Partitions() int {
	return bm.partitions
}

// Partition returns a consistent partition in [0, Partitions()) for key.
func (bm *BucketingManager) Partition(key string) int {
	if bm.partitions == 1 {
		return 0
	}
	return int(bm.getHash(key) % uint64(bm.partitions))
}

// HourBucket truncates t to the enclosing UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
