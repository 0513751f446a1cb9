// Package cacheobj defines the object record that every eviction policy and
// the hash index operate on, plus the intrusive doubly-linked list
// primitives policies use to maintain their eviction order.
//
// A Record is shared between two owners for the duration of its residency:
// the hash index owns HashNext and destroys the record on delete; a policy
// owns the record's position in exactly one List and never allocates or
// frees it directly. Neither owner may observe the record in more than one
// place at a time.
package cacheobj

// Record is one cache-resident object. ObjID is unique within the index at
// any instant. SegmentID is meaningful only to policies that partition
// their eviction order into segments (e.g. segmented FIFO); plain FIFO
// leaves it at zero.
type Record struct {
	ObjID     uint64
	ObjSize   uint32
	SegmentID int

	// CreateTimeReal and CreateTimeVirtual are stamped once, on admission,
	// and read back by eviction-age recording.
	CreateTimeReal    uint64
	CreateTimeVirtual uint64

	// HashNext chains this record within its hash bucket. Owned by the
	// hash index; policies must never read or write it.
	HashNext *Record

	// prev/next chain this record within the policy's segment list. Owned
	// by the policy via List; the hash index must never touch these.
	prev, next *Record
}

// List is a head/tail pair over Records linked by prev/next. A List never
// allocates and never touches size or count accounting — callers own that.
// The zero value is an empty list.
type List struct {
	Head, Tail *Record
}

// Empty reports whether the list has no records.
func (l *List) Empty() bool {
	return l.Head == nil
}

// PrependToHead attaches r at the head of the list. r must not already be
// linked into any list.
func (l *List) PrependToHead(r *Record) {
	r.prev = nil
	r.next = l.Head

	if l.Head != nil {
		l.Head.prev = r
	}

	l.Head = r

	if l.Tail == nil {
		l.Tail = r
	}
}

// Remove splices r out of the list. r must currently be linked into this
// list.
func (l *List) Remove(r *Record) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.Head = r.next
	}

	if r.next != nil {
		r.next.prev = r.prev
	} else {
		l.Tail = r.prev
	}

	r.prev, r.next = nil, nil
}

// MoveToHead removes r and reinserts it at the head. r must currently be
// linked into this list.
func (l *List) MoveToHead(r *Record) {
	if l.Head == r {
		return
	}

	l.Remove(r)
	l.PrependToHead(r)
}

// Each calls fn for every record in the list, head to tail. fn may be
// called on a record it then removes from some other list, but must not
// mutate this list's own linkage mid-walk.
func (l *List) Each(fn func(*Record)) {
	for r := l.Head; r != nil; {
		next := r.next
		fn(r)
		r = next
	}
}
