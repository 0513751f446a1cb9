// Package fifo implements the plain FIFO eviction policy: one ordered
// queue, insert at head, evict at tail, no reordering on hit.
//
// # When to Use FIFO
//
// FIFO is the simplest possible eviction order: objects leave the cache in
// exactly the order they were admitted, regardless of how often they were
// subsequently accessed. Use it as the baseline a simulation run compares
// other policies against.
//
// # Thread Safety
//
// Cache is NOT safe for concurrent use from multiple goroutines: spec.md
// §5 treats eviction policies as single-threaded cooperative state, with
// the hash index as the only component that is internally synchronized. A
// driver that wants multiple goroutines touching one Cache must serialize
// its own calls into Check/Get/Insert/Evict/Remove.
package fifo

import (
	"github.com/serroba/cachesim/cacheobj"
	"github.com/serroba/cachesim/index"
	"github.com/serroba/cachesim/policy"
)

// Cache implements policy.Policy as a plain FIFO queue.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	idx  *index.Index
	list cacheobj.List

	occupiedSize uint64
	nObj         uint64
	nReq         uint64

	cacheSize      uint64
	perObjOverhead uint32
	objMDSize      uint32

	ageMode policy.AgeMode
	ageSink policy.EvictionAgeSink
}

// New creates an empty FIFO cache per common. ageSink/ageMode are optional
// (pass policy.AgeDisabled, nil to skip eviction-age recording).
func New(common policy.CommonParams, ageMode policy.AgeMode, ageSink policy.EvictionAgeSink) *Cache {
	return &Cache{
		idx:            index.New(common.EffectiveHashPower()),
		cacheSize:      common.CacheSize,
		perObjOverhead: common.PerObjOverhead,
		objMDSize:      common.ObjMDSize(),
		ageMode:        ageMode,
		ageSink:        ageSink,
	}
}

// Check reports residency of req.ObjID. FIFO never reorders on hit,
// regardless of updateCache.
func (c *Cache) Check(req *policy.Request, updateCache bool) bool {
	return c.idx.Find(req.ObjID) != nil
}

// Get runs the standard admission path (spec.md §4.5): on hit, return
// true; on miss, admit req (evicting to make room first) if CanInsert
// allows it, and return false either way.
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

// CanInsert reports whether req could ever fit: FIFO has no per-object
// bound beyond the cache's total capacity, so this reports whether the
// object (plus metadata) fits in an empty cache.
func (c *Cache) CanInsert(req *policy.Request) bool {
	return uint64(req.ObjSize)+uint64(c.objMDSize) <= c.cacheSize
}

// Insert admits req unconditionally, prepending it to the head of the
// queue.
func (c *Cache) Insert(req *policy.Request) *policy.Record {
	r := &cacheobj.Record{
		ObjID:             req.ObjID,
		ObjSize:           req.ObjSize,
		CreateTimeReal:    req.RealTime,
		CreateTimeVirtual: c.nReq,
	}

	resident := c.idx.Insert(r)
	c.list.PrependToHead(resident)

	c.occupiedSize += uint64(resident.ObjSize) + uint64(c.perObjOverhead)
	c.nObj++

	return toPolicyRecord(resident)
}

// Evict removes the oldest resident record (the tail of the queue). out,
// if non-nil, receives a copy of its fields. Evicting an empty cache is a
// no-op.
func (c *Cache) Evict(req *policy.Request, out *policy.Record) {
	victim := c.list.Tail
	if victim == nil {
		return
	}

	c.recordEvictionAge(req, victim)

	if out != nil {
		*out = *toPolicyRecord(victim)
	}

	c.occupiedSize -= uint64(victim.ObjSize) + uint64(c.perObjOverhead)
	c.nObj--

	c.list.Remove(victim)
	c.idx.DeleteByID(victim.ObjID)
}

// ToEvict returns the record that would be evicted next, without evicting
// it.
func (c *Cache) ToEvict() *policy.Record {
	if c.list.Tail == nil {
		return nil
	}

	return toPolicyRecord(c.list.Tail)
}

// Remove evicts the resident record with the given id, if any, and
// reports whether anything was removed. Removing an unknown id is
// reported, not aborted.
func (c *Cache) Remove(objID uint64) bool {
	r := c.idx.Find(objID)
	if r == nil {
		return false
	}

	c.list.Remove(r)
	c.occupiedSize -= uint64(r.ObjSize) + uint64(c.perObjOverhead)
	c.nObj--
	c.idx.DeleteByID(objID)

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
