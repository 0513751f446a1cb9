package sfifo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serroba/cachesim/policy"
	"github.com/serroba/cachesim/sfifo"
)

func newCache(t *testing.T, cacheSize uint64, nSeg int) *sfifo.Cache {
	t.Helper()

	c := sfifo.New(policy.CommonParams{
		CacheSize: cacheSize,
		HashPower: 8,
	}, sfifo.Params{NSeg: nSeg}, policy.AgeDisabled, nil)
	c.EnableDebugVerify()

	return c
}

func get(c *sfifo.Cache, id uint64, size uint32) bool {
	return c.Get(&policy.Request{ObjID: id, ObjSize: size})
}

func TestSFIFO_GetEmptyIsMiss(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2)
	assert.False(t, get(c, 1, 1))
}

// A hit on an object below the top segment promotes it one segment up
// (spec.md §8's worked promotion example: n_seg=2, cache_size=4, requests
// 1,2,1). The hit moves 1 from segment 0 to segment 1 without evicting
// anything, leaving 2 as the next eviction candidate.
func TestSFIFO_HitPromotesToNextSegment(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2)

	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1))
	require.True(t, get(c, 1, 1)) // hit, promotes 1 to segment 1

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.NObj)
	assert.Equal(t, uint64(2), stats.OccupiedSize)

	victim := c.ToEvict()
	require.NotNil(t, victim)
	assert.Equal(t, uint64(2), victim.ObjID, "segment 0's tail should still be 2")
}

// A hit on an object already in the top segment moves it to the head of
// that same segment; it does not promote further and does not touch lower
// segments.
func TestSFIFO_HitInTopSegmentReordersWithinSegment(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2)

	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1))
	require.True(t, get(c, 1, 1)) // promotes 1 to segment 1
	require.True(t, get(c, 1, 1)) // hit within segment 1, no further promotion

	victim := c.ToEvict()
	require.NotNil(t, victim)
	assert.Equal(t, uint64(2), victim.ObjID)
}

// Insert places a new object in the lowest-index segment that has room for
// it, which can be a segment above 0 if a lower one is full but a higher
// one is not (spec.md §4.4's literal "lowest-index segment with room"
// search). See DESIGN.md for why this, rather than "new objects always
// enter segment 0", is the behavior this package implements.
func TestSFIFO_InsertCanLandAboveSegmentZeroWhenItHasRoom(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2)

	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1))
	require.True(t, get(c, 1, 1)) // promotes 1; segment 0 = [2], segment 1 = [1]

	require.False(t, get(c, 3, 1)) // segment 0 has room (1+1<=2): lands in segment 0
	require.False(t, get(c, 4, 1)) // segment 0 full (2+1>2), segment 1 has room (1+1<=2): lands in segment 1

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.NObj, "no eviction needed: every admission found room somewhere")
	assert.Equal(t, uint64(4), stats.OccupiedSize)

	for _, id := range []uint64{1, 2, 3, 4} {
		assert.True(t, c.Check(&policy.Request{ObjID: id}, false), "id %d should be resident", id)
	}
}

// When no segment has room for a new object, admission evicts from segment
// 0 until it has room, then admits there.
func TestSFIFO_InsertEvictsFromSegmentZeroWhenNoSegmentHasRoom(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2) // per_seg_max_size = 2

	require.False(t, get(c, 1, 2)) // segment 0 = [1], bytes=2 (full)
	require.False(t, get(c, 2, 2)) // segment 0 full; segment 1 has room: 2 -> segment 1, bytes=2 (full)

	stats := c.Stats()
	require.Equal(t, uint64(4), stats.OccupiedSize, "both segments full, nothing evicted yet")

	require.False(t, get(c, 3, 2)) // neither segment has room: evict segment 0's tail (1), admit 3 there

	assert.False(t, c.Check(&policy.Request{ObjID: 1}, false))
	assert.True(t, c.Check(&policy.Request{ObjID: 2}, false))
	assert.True(t, c.Check(&policy.Request{ObjID: 3}, false))

	victim := c.ToEvict()
	require.NotNil(t, victim)
	assert.Equal(t, uint64(3), victim.ObjID, "segment 0 now holds only the newly admitted object")

	finalStats := c.Stats()
	assert.Equal(t, uint64(2), finalStats.NObj)
	assert.Equal(t, uint64(4), finalStats.OccupiedSize)
}

// A promotion can push the destination segment over its share of the cache
// without changing occupied_size at all (bytes just move between
// segments), so Check must cool on that condition too, not only on global
// overflow. See DESIGN.md's note on this.
func TestSFIFO_PromotionCoolsDestinationSegmentEvenWithoutGlobalOverflow(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2) // per_seg_max_size = 2

	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1)) // segment 0 = [2,1], bytes=2 (full)
	require.False(t, get(c, 3, 1)) // segment 0 full, segment 1 has room: 3 -> segment 1
	require.False(t, get(c, 4, 1)) // segment 0 full, segment 1 has room: 4 -> segment 1, bytes=2 (full)

	require.True(t, get(c, 1, 1)) // hit: promotes 1 from segment 0 into the already-full segment 1

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.OccupiedSize, "cooling rebalances bytes between segments, it never evicts here")
	assert.Equal(t, uint64(4), stats.NObj)

	for _, id := range []uint64{1, 2, 3, 4} {
		assert.True(t, c.Check(&policy.Request{ObjID: id}, false), "id %d should still be resident", id)
	}
}

func TestSFIFO_CanInsertBoundedByPerSegmentMax(t *testing.T) {
	t.Parallel()

	c := newCache(t, 4, 2) // per_seg_max_size = 2
	assert.True(t, c.CanInsert(&policy.Request{ObjID: 1, ObjSize: 2}))
	assert.False(t, c.CanInsert(&policy.Request{ObjID: 1, ObjSize: 3}))
}

func TestSFIFO_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)
	require.False(t, get(c, 1, 1))
	require.True(t, c.Check(&policy.Request{ObjID: 1}, true))
	require.True(t, c.Remove(1))
	assert.False(t, c.Check(&policy.Request{ObjID: 1}, true))
}

func TestSFIFO_RemoveUnknownIDReturnsFalse(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)
	assert.False(t, c.Remove(999))
}

func TestSFIFO_RemoveDebitsSegmentAndGlobalCounters(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)
	require.False(t, get(c, 1, 2))
	require.False(t, get(c, 2, 2))

	require.True(t, c.Remove(1))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.NObj)
	assert.Equal(t, uint64(2), stats.OccupiedSize)
}

func TestSFIFO_ToEvictOnEmptyCacheIsNil(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)
	assert.Nil(t, c.ToEvict())
}

func TestSFIFO_EvictOnEmptyCacheIsNoop(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)

	var out policy.Record
	c.Evict(&policy.Request{}, &out)

	assert.Equal(t, policy.Record{}, out)
	assert.Equal(t, uint64(0), c.Stats().NObj)
}

func TestSFIFO_StatsTrackOccupancy(t *testing.T) {
	t.Parallel()

	c := newCache(t, 10, 4)
	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.NObj)
	assert.Equal(t, uint64(2), stats.OccupiedSize)
	assert.Equal(t, uint64(2), stats.NReq)
}

func TestSFIFO_EvictionAgeRecordedInVirtualMode(t *testing.T) {
	t.Parallel()

	sink := &fakeAgeSink{}
	c := sfifo.New(policy.CommonParams{CacheSize: 2, HashPower: 8}, sfifo.Params{NSeg: 2}, policy.AgeVirtual, sink)
	c.EnableDebugVerify()

	require.False(t, get(c, 1, 1))
	require.False(t, get(c, 2, 1)) // segment 0 full (1), segment 1 has room: lands in segment 1
	require.False(t, get(c, 3, 1)) // neither has room: evicts segment 0's tail, 1

	require.Len(t, sink.ages, 1)
	assert.Equal(t, uint64(2), sink.ages[0])
}

// A long sequence of hits and misses across more segments than any single
// object ever needs to cross must never trip the debug invariant checks:
// sum(segment bytes) == occupied_size and sum(segment counts) == n_obj hold
// after every mutating call.
func TestSFIFO_InvariantsHoldAcrossMixedWorkload(t *testing.T) {
	t.Parallel()

	c := newCache(t, 16, 4)

	ids := []uint64{1, 2, 3, 1, 2, 4, 5, 6, 1, 7, 8, 2, 9, 10, 3, 11, 1, 2, 12, 13}

	assert.NotPanics(t, func() {
		for _, id := range ids {
			get(c, id, 1)
		}
	})
}

func TestSFIFO_NSegLessThanOrEqualZeroFallsBackToDefault(t *testing.T) {
	t.Parallel()

	c := sfifo.New(policy.CommonParams{CacheSize: 8, HashPower: 8}, sfifo.Params{NSeg: 0}, policy.AgeDisabled, nil)
	require.False(t, get(c, 1, 1))
	assert.True(t, c.Check(&policy.Request{ObjID: 1}, false))
}

type fakeAgeSink struct {
	ages []uint64
}

func (f *fakeAgeSink) RecordEvictionAge(age uint64) {
	f.ages = append(f.ages, age)
}
