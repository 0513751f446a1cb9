// Package sfifo implements the segmented FIFO (SFIFO) eviction policy: n_seg
// ordered queues, promotion on hit from segment k to k+1, iterative cooling
// back down the chain when a segment overflows, and eviction from segment 0.
//
// # When to Use SFIFO
//
// Plain FIFO (see the fifo package) never reorders on hit, so a frequently
// reused object ages out exactly like a one-off. SFIFO buys back some of
// LRU's hit-sensitivity without LRU's per-access list surgery: a hit only
// moves an object up one segment (or to the head of its current segment, at
// the top), and demotions cascade lazily, only when a segment is actually
// over its share of the cache.
//
// # Thread Safety
//
// Cache is NOT safe for concurrent use from multiple goroutines, for the
// same reason fifo.Cache is not: eviction policies are single-threaded
// cooperative state, with the hash index as the only internally
// synchronized component.
package sfifo

import (
	"fmt"

	"github.com/serroba/cachesim/cacheobj"
	"github.com/serroba/cachesim/index"
	"github.com/serroba/cachesim/policy"
)

// segment is one of the cache's n_seg ordered queues. bytes and count are
// maintained incrementally; they must always equal what a walk of list
// would compute (verifyInvariants checks this in debug mode).
type segment struct {
	list  cacheobj.List
	bytes uint64
	count uint64
}

// Cache implements policy.Policy as a segmented FIFO.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	idx      *index.Index
	segments []segment

	perSegMaxSize uint64
	cacheSize     uint64
	objMDSize     uint32

	occupiedSize uint64
	nObj         uint64
	nReq         uint64

	ageMode policy.AgeMode
	ageSink policy.EvictionAgeSink

	debugVerify bool
}

// New creates an empty SFIFO cache per common and params. ageSink/ageMode
// are optional (pass policy.AgeDisabled, nil to skip eviction-age
// recording).
func New(common policy.CommonParams, params Params, ageMode policy.AgeMode, ageSink policy.EvictionAgeSink) *Cache {
	nSeg := params.NSeg
	if nSeg <= 0 {
		nSeg = DefaultNSeg
	}

	return &Cache{
		idx:           index.New(common.EffectiveHashPower()),
		segments:      make([]segment, nSeg),
		perSegMaxSize: common.CacheSize / uint64(nSeg),
		cacheSize:     common.CacheSize,
		objMDSize:     common.ObjMDSize(),
		ageMode:       ageMode,
		ageSink:       ageSink,
	}
}

// EnableDebugVerify turns on post-mutation invariant checking: every Check,
// Insert, Evict and Remove call panics if the per-segment byte/count
// bookkeeping has drifted from the segment lists' actual contents. It costs
// an O(n_obj) walk per call, so it is meant for tests, not production runs.
func (c *Cache) EnableDebugVerify() {
	c.debugVerify = true
}

// Check reports residency of req.ObjID. If updateCache is true and the
// object is resident, it is promoted: to the head of its own segment if
// already in the top segment, otherwise to the head of the next segment up.
// A promotion can push the destination segment over its share of the cache
// even while the cache's total occupied size stays within budget (the
// segment that gained bytes isn't necessarily the one the cache evicts
// from), so cooling is triggered both on global overflow and on the
// promoted-into segment's own bound, starting from that segment.
func (c *Cache) Check(req *policy.Request, updateCache bool) bool {
	r := c.idx.Find(req.ObjID)
	if r == nil {
		return false
	}

	if !updateCache {
		return true
	}

	top := len(c.segments) - 1
	if r.SegmentID == top {
		c.segments[top].list.MoveToHead(r)
	} else {
		c.promoteToNext(r)
	}

	for c.occupiedSize > c.cacheSize || c.segments[r.SegmentID].bytes > c.perSegMaxSize {
		c.cool(req, r.SegmentID)
	}

	c.verifyInvariants()

	return true
}

// Get runs the standard admission path (spec.md §4.5): on hit, return true
// (promoting along the way); on miss, admit req (evicting to make room
// first) if CanInsert allows it, and return false either way.
func (c *Cache) Get(req *policy.Request) bool {
	c.nReq++

	if c.Check(req, true) {
		return true
	}

	if !c.CanInsert(req) {
		return false
	}

	for c.occupiedSize+uint64(req.ObjSize)+uint64(c.objMDSize) > c.cacheSize {
		c.Evict(req, nil)
	}

	c.Insert(req)

	return false
}

// CanInsert reports whether req could ever fit in a single segment: SFIFO
// bounds each object by the per-segment share of the cache, since an object
// larger than that could never be admitted into any segment.
func (c *Cache) CanInsert(req *policy.Request) bool {
	return uint64(req.ObjSize)+uint64(c.objMDSize) <= c.perSegMaxSize
}

// Insert admits req, placing it in the lowest-index segment with room for
// it (spec.md §4.4). If no segment has room, segment 0's tail is evicted
// until it does.
func (c *Cache) Insert(req *policy.Request) *policy.Record {
	if !c.CanInsert(req) {
		return nil
	}

	r := &cacheobj.Record{
		ObjID:             req.ObjID,
		ObjSize:           req.ObjSize,
		CreateTimeReal:    req.RealTime,
		CreateTimeVirtual: c.nReq,
	}

	resident := c.idx.Insert(r)
	delta := uint64(resident.ObjSize) + uint64(c.objMDSize)

	target := -1
	for i := range c.segments {
		if c.segments[i].bytes+delta <= c.perSegMaxSize {
			target = i
			break
		}
	}

	if target == -1 {
		for c.segments[0].bytes+delta > c.perSegMaxSize {
			c.Evict(req, nil)
		}
		target = 0
	}

	resident.SegmentID = target
	c.segments[target].list.PrependToHead(resident)
	c.segments[target].bytes += delta
	c.segments[target].count++

	c.occupiedSize += delta
	c.nObj++

	c.verifyInvariants()

	return toPolicyRecord(resident)
}

// Evict removes and destroys the tail of the lowest-index non-empty
// segment. out, if non-nil, receives a copy of its fields. Evicting an
// empty cache is a no-op.
func (c *Cache) Evict(req *policy.Request, out *policy.Record) {
	idx := c.lowestNonEmptySegment()
	if idx == -1 {
		return
	}

	seg := &c.segments[idx]
	victim := seg.list.Tail

	c.recordEvictionAge(req, victim)

	if out != nil {
		*out = *toPolicyRecord(victim)
	}

	delta := uint64(victim.ObjSize) + uint64(c.objMDSize)

	seg.list.Remove(victim)
	seg.bytes -= delta
	seg.count--

	c.occupiedSize -= delta
	c.nObj--

	c.idx.DeleteByID(victim.ObjID)

	c.verifyInvariants()
}

// ToEvict returns the record that would be evicted next, without evicting
// it, or nil if the cache is empty.
func (c *Cache) ToEvict() *policy.Record {
	idx := c.lowestNonEmptySegment()
	if idx == -1 {
		return nil
	}

	return toPolicyRecord(c.segments[idx].list.Tail)
}

// Remove evicts the resident record with the given id, if any, and reports
// whether anything was removed. Removing an unknown id is reported, not
// aborted.
func (c *Cache) Remove(objID uint64) bool {
	r := c.idx.Find(objID)
	if r == nil {
		return false
	}

	delta := uint64(r.ObjSize) + uint64(c.objMDSize)
	seg := &c.segments[r.SegmentID]

	seg.list.Remove(r)
	seg.bytes -= delta
	seg.count--

	c.occupiedSize -= delta
	c.nObj--

	c.idx.DeleteByID(objID)

	c.verifyInvariants()

	return true
}

// Stats returns a snapshot of the cache's bookkeeping counters.
func (c *Cache) Stats() policy.Stats {
	return policy.Stats{
		OccupiedSize: c.occupiedSize,
		NObj:         c.nObj,
		NReq:         c.nReq,
	}
}

// promoteToNext moves r from its current segment to the head of the next
// one up, crediting and debiting both segments' byte/count accounting by
// the object's full footprint (size plus metadata, the same pair insert and
// cool use — see DESIGN.md's note on normalized cool accounting).
func (c *Cache) promoteToNext(r *cacheobj.Record) {
	delta := uint64(r.ObjSize) + uint64(c.objMDSize)
	from := &c.segments[r.SegmentID]

	from.list.Remove(r)
	from.bytes -= delta
	from.count--

	r.SegmentID++
	to := &c.segments[r.SegmentID]

	to.list.PrependToHead(r)
	to.bytes += delta
	to.count++
}

// cool cascades a single object down from level toward segment 0, moving
// the tail of each overfull segment into the head of the one below it,
// until either a segment has room for the displaced object or segment 0
// itself overflows, in which case its tail is evicted. This is an iterative
// rendering of the reference implementation's recursive SFIFO_cool (see
// SPEC_FULL.md §6): a recursive translation would give an eviction-heavy
// workload unbounded Go call-stack growth for a deep segment chain.
func (c *Cache) cool(req *policy.Request, level int) {
	for {
		if level == 0 {
			c.Evict(req, nil)
			return
		}

		src := &c.segments[level]
		if src.list.Empty() {
			level--
			continue
		}

		victim := src.list.Tail
		delta := uint64(victim.ObjSize) + uint64(c.objMDSize)

		dst := &c.segments[level-1]

		src.list.Remove(victim)
		src.bytes -= delta
		src.count--

		victim.SegmentID = level - 1
		dst.list.PrependToHead(victim)
		dst.bytes += delta
		dst.count++

		if dst.bytes <= c.perSegMaxSize {
			return
		}

		level--
	}
}

func (c *Cache) lowestNonEmptySegment() int {
	for i := range c.segments {
		if !c.segments[i].list.Empty() {
			return i
		}
	}

	return -1
}

func (c *Cache) recordEvictionAge(req *policy.Request, victim *cacheobj.Record) {
	if c.ageSink == nil || c.ageMode == policy.AgeDisabled {
		return
	}

	switch c.ageMode {
	case policy.AgeReal:
		c.ageSink.RecordEvictionAge(req.RealTime - victim.CreateTimeReal)
	case policy.AgeVirtual:
		c.ageSink.RecordEvictionAge(c.nReq - victim.CreateTimeVirtual)
	}
}

// verifyInvariants walks every segment and panics if the incremental
// byte/count bookkeeping has drifted from the lists' actual contents, if a
// record's SegmentID disagrees with the segment it is linked into, or if a
// segment holds more bytes than its share of the cache. It is a no-op
// unless EnableDebugVerify was called, matching the reference
// implementation's compile-time DEBUG_MODE check on _SFIFO_verify_lru_size,
// made a runtime toggle since this is a library, not a rebuilt binary.
func (c *Cache) verifyInvariants() {
	if !c.debugVerify {
		return
	}

	var totalBytes, totalCount uint64

	for i := range c.segments {
		seg := &c.segments[i]

		var bytes, count uint64
		seg.list.Each(func(r *cacheobj.Record) {
			if r.SegmentID != i {
				panic(fmt.Sprintf("sfifo: record %d linked into segment %d but SegmentID=%d", r.ObjID, i, r.SegmentID))
			}
			bytes += uint64(r.ObjSize) + uint64(c.objMDSize)
			count++
		})

		if bytes != seg.bytes {
			panic(fmt.Sprintf("sfifo: segment %d bytes=%d, want %d", i, seg.bytes, bytes))
		}
		if seg.bytes > c.perSegMaxSize {
			panic(fmt.Sprintf("sfifo: segment %d bytes=%d exceeds per_seg_max_size=%d", i, seg.bytes, c.perSegMaxSize))
		}
		if count != seg.count {
			panic(fmt.Sprintf("sfifo: segment %d count=%d, want %d", i, seg.count, count))
		}

		totalBytes += bytes
		totalCount += count
	}

	if totalBytes != c.occupiedSize {
		panic(fmt.Sprintf("sfifo: occupied_size=%d, want %d", c.occupiedSize, totalBytes))
	}
	if totalCount != c.nObj {
		panic(fmt.Sprintf("sfifo: n_obj=%d, want %d", c.nObj, totalCount))
	}
}

func toPolicyRecord(r *cacheobj.Record) *policy.Record {
	return &policy.Record{
		ObjID:             r.ObjID,
		ObjSize:           r.ObjSize,
		SegmentID:         r.SegmentID,
		CreateTimeReal:    r.CreateTimeReal,
		CreateTimeVirtual: r.CreateTimeVirtual,
	}
}

var _ policy.Policy = (*Cache)(nil)
