// Package index implements the concurrent chained hash index cache
// policies use to locate resident objects by identifier.
//
// The index is a fixed-size array of bucket chains protected by a
// fixed-size pool of reader/writer locks: many buckets share one stripe,
// and the only synchronization is the stripe lock — there is no global
// lock. Ordering guarantee: operations on buckets that map to distinct
// stripes are fully independent; operations sharing a stripe are
// serialized.
package index

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/serroba/cachesim/cacheobj"
)

// Index is a fixed-power-of-two bucket table of singly-linked object
// chains. The zero value is not usable; create instances with New.
type Index struct {
	buckets    []*cacheobj.Record
	hashMask   uint64
	stripes    []sync.RWMutex
	stripeMask uint64
	nObj       atomic.Int64
}

// New creates an index with 2^hashPower buckets. hashPower must be small
// enough that 1<<hashPower fits in an int; 20 is the conventional default
// for a full-size simulation run, but tests commonly use far smaller
// values.
func New(hashPower uint8) *Index {
	nBuckets := uint64(1) << hashPower

	var stripePower uint8
	if hashPower > 7 {
		stripePower = hashPower - 7
	}
	nStripes := uint64(1) << stripePower

	return &Index{
		buckets:    make([]*cacheobj.Record, nBuckets),
		hashMask:   nBuckets - 1,
		stripes:    make([]sync.RWMutex, nStripes),
		stripeMask: nStripes - 1,
	}
}

// NObj returns the number of resident records. It is consistent with the
// sum of bucket chain lengths once the index is quiescent.
func (idx *Index) NObj() int64 {
	return idx.nObj.Load()
}

func (idx *Index) bucketOf(objID uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], objID)

	return xxhash.Sum64(buf[:]) & idx.hashMask
}

func (idx *Index) stripeOf(bucket uint64) *sync.RWMutex {
	return &idx.stripes[bucket&idx.stripeMask]
}

func findInBucket(head *cacheobj.Record, objID uint64) *cacheobj.Record {
	for r := head; r != nil; r = r.HashNext {
		if r.ObjID == objID {
			return r
		}
	}

	return nil
}

// Find returns the resident record for objID, or nil if absent.
func (idx *Index) Find(objID uint64) *cacheobj.Record {
	bucket := idx.bucketOf(objID)
	stripe := idx.stripeOf(bucket)

	stripe.RLock()
	defer stripe.RUnlock()

	return findInBucket(idx.buckets[bucket], objID)
}

// Insert adds r to the index keyed by r.ObjID. If an object with that id
// is already resident, the supplied r is discarded and the resident
// record is returned unchanged; otherwise r is prepended to its bucket
// and the resident-object count is incremented.
func (idx *Index) Insert(r *cacheobj.Record) *cacheobj.Record {
	bucket := idx.bucketOf(r.ObjID)
	stripe := idx.stripeOf(bucket)

	stripe.Lock()
	defer stripe.Unlock()

	if existing := findInBucket(idx.buckets[bucket], r.ObjID); existing != nil {
		return existing
	}

	r.HashNext = idx.buckets[bucket]
	idx.buckets[bucket] = r
	idx.nObj.Add(1)

	return r
}

// DeleteByID removes the record with the given id, if present, and
// reports whether anything was removed.
func (idx *Index) DeleteByID(objID uint64) bool {
	bucket := idx.bucketOf(objID)
	stripe := idx.stripeOf(bucket)

	stripe.Lock()
	defer stripe.Unlock()

	var prev *cacheobj.Record

	for r := idx.buckets[bucket]; r != nil; r = r.HashNext {
		if r.ObjID != objID {
			prev = r
			continue
		}

		if prev == nil {
			idx.buckets[bucket] = r.HashNext
		} else {
			prev.HashNext = r.HashNext
		}

		r.HashNext = nil
		idx.nObj.Add(-1)

		return true
	}

	return false
}

// RandomObject samples a uniformly random non-empty bucket and returns its
// head record. It blocks (re-sampling) until a non-empty bucket is found,
// so it must not be called on an empty index.
func (idx *Index) RandomObject() *cacheobj.Record {
	for {
		bucket := rand.Uint64() & idx.hashMask
		stripe := idx.stripeOf(bucket)

		stripe.RLock()
		head := idx.buckets[bucket]
		stripe.RUnlock()

		if head != nil {
			return head
		}
	}
}

// ForEach walks every bucket, invoking visit on each resident record. Each
// bucket is visited under its stripe's writer lock, so visit may free or
// otherwise mutate the record it is given, but it must not call back into
// the index while holding that bucket's stripe (reentrant locking
// deadlocks).
func (idx *Index) ForEach(visit func(*cacheobj.Record)) {
	for bucket := range idx.buckets {
		stripe := idx.stripeOf(uint64(bucket))
		stripe.Lock()

		cur := idx.buckets[bucket]
		for cur != nil {
			next := cur.HashNext
			visit(cur)
			cur = next
		}

		stripe.Unlock()
	}
}

// CheckNoDuplicates walks every bucket verifying no obj id repeats within
// its chain and that NObj matches the total chain length. It is a debug
// helper, grounded on the original's per-bucket duplicate assertion; call
// it only when debug verification is enabled, since it takes every stripe
// lock in turn.
func (idx *Index) CheckNoDuplicates() error {
	var total int64

	seen := make(map[uint64]struct{})

	for bucket := range idx.buckets {
		stripe := idx.stripeOf(uint64(bucket))
		stripe.RLock()

		clear(seen)

		for r := idx.buckets[bucket]; r != nil; r = r.HashNext {
			if _, dup := seen[r.ObjID]; dup {
				stripe.RUnlock()

				return &InvariantError{Msg: "duplicate obj id in bucket chain"}
			}

			seen[r.ObjID] = struct{}{}
			total++
		}

		stripe.RUnlock()
	}

	if total != idx.nObj.Load() {
		return &InvariantError{Msg: "n_obj does not match sum of bucket chain lengths"}
	}

	return nil
}

// InvariantError reports a violated internal invariant detected by debug
// verification.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "index: " + e.Msg
}
