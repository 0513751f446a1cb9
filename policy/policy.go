// Package policy defines the vocabulary every eviction policy shares: the
// request and common-parameter shapes, bookkeeping snapshot, optional
// eviction-age recording, and the dispatch surface a driver uses to treat
// fifo.Cache and sfifo.Cache interchangeably.
package policy

// Request is one simulated cache access.
type Request struct {
	ObjID    uint64
	ObjSize  uint32
	RealTime uint64
}

// CommonParams configures any policy's hash index and byte accounting.
type CommonParams struct {
	// CacheSize is the total byte budget.
	CacheSize uint64

	// ConsiderObjMetadata, when true, adds a fixed per-object metadata
	// cost (ObjMDSize) to each object's byte count. SFIFO charges it in
	// every admission, promotion, demotion and eviction; FIFO uses it only
	// in CanInsert and in Get's room-making check, and charges
	// PerObjOverhead in occupied size instead.
	ConsiderObjMetadata bool

	// PerObjOverhead is added to occupied size on every FIFO admission.
	PerObjOverhead uint32

	// HashPower sizes the hash index to 2^HashPower buckets. Zero means
	// "use the default" (20), matching spec.md §6.
	HashPower uint8
}

// objMDSizeBytes is the fixed per-object metadata cost the original
// reserves when ConsiderObjMetadata is set.
const objMDSizeBytes = 16

// ObjMDSize returns the per-object metadata byte cost implied by
// ConsiderObjMetadata.
func (p CommonParams) ObjMDSize() uint32 {
	if p.ConsiderObjMetadata {
		return objMDSizeBytes
	}

	return 0
}

// EffectiveHashPower returns HashPower, or the spec default of 20 when
// unset.
func (p CommonParams) EffectiveHashPower() uint8 {
	if p.HashPower == 0 {
		return 20
	}

	return p.HashPower
}

// Stats is a snapshot of a policy's bookkeeping counters.
type Stats struct {
	OccupiedSize uint64
	NObj         uint64
	NReq         uint64
}

// AgeMode selects how eviction age is measured when an EvictionAgeSink is
// configured.
type AgeMode int

const (
	// AgeDisabled means no eviction age is recorded.
	AgeDisabled AgeMode = iota
	// AgeReal records req.RealTime - record.CreateTimeReal.
	AgeReal
	// AgeVirtual records nReq - record.CreateTimeVirtual.
	AgeVirtual
)

// EvictionAgeSink receives an age sample on every eviction, when enabled.
// This is a side channel only: it must never influence cache state.
type EvictionAgeSink interface {
	RecordEvictionAge(age uint64)
}

// Policy is the operation set every eviction policy exposes to a driver
// (spec.md §6). A driver invokes Get for a normal simulated access; the
// remaining methods are available for direct use (e.g. by a test, or by a
// driver that wants to bypass the standard admission path).
type Policy interface {
	// Check reports whether req.ObjID is resident. If updateCache is true
	// and the policy reorders on hit (e.g. SFIFO promotion), the
	// reordering happens before Check returns.
	Check(req *Request, updateCache bool) bool

	// Get runs the standard admission path: check, then on miss admit
	// (possibly evicting first) if CanInsert allows it. Returns true on
	// hit, false on miss (whether or not anything was admitted).
	Get(req *Request) bool

	// Insert admits req unconditionally and returns a copy of the new
	// resident record's fields, or nil if CanInsert(req) is false.
	Insert(req *Request) *Record

	// Evict removes and destroys one record chosen by the policy's
	// eviction order. out, if non-nil, receives a copy of the evicted
	// record's fields. Evicting from an empty cache is a no-op.
	Evict(req *Request, out *Record)

	// ToEvict returns the record that would be evicted next, without
	// evicting it, or nil if the cache is empty.
	ToEvict() *Record

	// Remove evicts the resident record with the given id, if any, and
	// reports whether anything was removed.
	Remove(objID uint64) bool

	// CanInsert reports whether req could ever be admitted (independent
	// of current occupancy beyond the configured capacity bounds).
	CanInsert(req *Request) bool

	// Stats returns a snapshot of the policy's bookkeeping counters.
	Stats() Stats
}

// Record is a plain value copy of a resident record's public fields, used
// for Evict's out-parameter and ToEvict's return value so callers never
// see policy-internal pointers.
type Record struct {
	ObjID             uint64
	ObjSize           uint32
	SegmentID         int
	CreateTimeReal    uint64
	CreateTimeVirtual uint64
}
