package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPartition_ConsistentAndInRange(t *testing.T) {
	bm := NewBucketingManagerN(8)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		p := bm.Partition(key)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, bm.Partition(key))
	}
}

func TestPartition_SinglePartition(t *testing.T) {
	bm := NewBucketingManagerN(0)
	assert.Equal(t, 1, bm.Partitions())
	assert.Equal(t, 0, bm.Partition("anything"))
}

func TestHourBucket(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	ts := time.Date(2024, 3, 1, 10, 40, 12, 5, loc)

	assert.Equal(t, time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC), HourBucket(ts))
}

func TestHourBucket_OutsideNanosecondRange(t *testing.T) {
	assert.Equal(t, time.Date(1500, 1, 1, 3, 0, 0, 0, time.UTC),
		HourBucket(time.Date(1500, 1, 1, 3, 59, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2300, 6, 1, 0, 0, 0, 0, time.UTC),
		HourBucket(time.Date(2300, 6, 1, 0, 15, 0, 0, time.UTC)))
}
