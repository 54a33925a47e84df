// Package membership tracks the peers a flock node believes are alive and
// the ones it recently evicted.
package membership

import (
	"net/netip"
	"slices"
)

// Ring is a fixed-capacity buffer of unique addresses. Pushing when full
// silently overwrites the oldest entry; pushing an address already present
// refreshes its position instead of duplicating it.
type Ring struct {
	capacity int
	entries  []netip.AddrPort
}

// NewRing creates a ring holding at most capacity addresses.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Push appends a, evicting the oldest entry if the ring is full.
func (r *Ring) Push(a netip.AddrPort) {
	r.Remove(a)
	if len(r.entries) == r.capacity {
		r.entries = slices.Delete(r.entries, 0, 1)
	}
	r.entries = append(r.entries, a)
}

// Remove purges every occurrence of a and reports how many were removed.
func (r *Ring) Remove(a netip.AddrPort) int {
	removed := 0
	r.entries = slices.DeleteFunc(r.entries, func(e netip.AddrPort) bool {
		if e == a {
			removed++
			return true
		}
		return false
	})
	return removed
}

// Contains reports whether a is currently in the ring.
func (r *Ring) Contains(a netip.AddrPort) bool {
	return slices.Contains(r.entries, a)
}

// Members returns the current contents, oldest first.
func (r *Ring) Members() []netip.AddrPort {
	out := make([]netip.AddrPort, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of addresses currently held.
func (r *Ring) Len() int {
	return len(r.entries)
}
