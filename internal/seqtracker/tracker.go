// Package seqtracker keeps per-router expected-next-sequence state so the
// writer can count flows dropped in transit. It is a Go map replacement for
// the fixed MAX_ROUTERS-sized open hash table (LastSeqTable) in readflows.c's
// FindLastSeq — spec.md §9 flags the original's fixed 1000-router cap as a
// latent defect (undefined overflow behavior); this implementation grows the
// map up to a configurable bound and fails closed past it instead.
package seqtracker

import (
	"net"

	"github.com/netflowd/netflowd/internal/cflowd"
)

// DefaultMaxRouters matches the reference implementation's MAX_ROUTERS, kept
// as a default rather than a hard ceiling.
const DefaultMaxRouters = 1000

// Tracker maps router IPv4 addresses to the next sequence number expected
// from that router. It is only ever touched from the writer goroutine (see
// spec.md §5), so it carries no internal locking.
type Tracker struct {
	expected  map[uint32]uint32
	maxRouters int
	full       bool // true once MaxRouters distinct routers have been seen and logged once
	onFull     func()
}

// New creates a tracker bounded at maxRouters distinct router addresses. A
// maxRouters of 0 uses DefaultMaxRouters.
func New(maxRouters int) *Tracker {
	if maxRouters <= 0 {
		maxRouters = DefaultMaxRouters
	}
	return &Tracker{
		expected:   make(map[uint32]uint32),
		maxRouters: maxRouters,
	}
}

// SetOnFull installs a callback invoked exactly once, the first time a
// datagram from an unseen router arrives after the table has reached its
// bound. The offending datagram's drop-count observation is skipped (the
// caller should treat it as if drop detection were disabled for that
// datagram) rather than corrupting or evicting existing state.
func (t *Tracker) SetOnFull(fn func()) { t.onFull = fn }

// Observe implements spec.md §4.B. It returns the number of flows dropped in
// this datagram (0 if the router is new or no gap was found), and ok=false
// only when the router table is full and this router is unknown — in which
// case the caller must not treat the return value of 0 as "no drop", since
// no observation was made at all.
func (t *Tracker) Observe(router net.IP, seq, count uint32) (dropped uint32, ok bool) {
	key := cflowd.IPv4ToUint32(router)

	expected, exists := t.expected[key]
	if !exists {
		if len(t.expected) >= t.maxRouters {
			if !t.full && t.onFull != nil {
				t.onFull()
			}
			t.full = true
			return 0, false
		}
		t.expected[key] = seq + count
		return 0, true
	}

	if seq == expected {
		t.expected[key] = seq + count
		return 0, true
	}

	if seq > expected {
		dropped = seq - expected
	} else {
		// 32-bit wrap: the gap is whatever remains to 2^32 from
		// expected, plus seq.
		dropped = (^uint32(0) - expected) + 1 + seq
	}

	t.expected[key] = seq + count
	return dropped, true
}

// RouterCount reports how many distinct routers are currently tracked.
func (t *Tracker) RouterCount() int { return len(t.expected) }
