package membership

import (
	"net/netip"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/flocknet/flock/pkg/constants"
)

// Roster is the member registry of one node: the ordered alive list with its
// round-robin probe cursor, a presence set for O(1) membership tests, the
// ring of recently-declared-dead peers, and the probe sequence counter.
// The node's own address is excluded from both the alive and dead sides.
//
// Roster is not safe for concurrent use; the event loop is its only caller.
type Roster struct {
	self    netip.AddrPort
	alive   []netip.AddrPort
	present map[netip.AddrPort]struct{}
	next    int
	dead    *Ring
	seq     uint64
	log     *logrus.Entry
}

// NewRoster creates an empty registry for the node at self.
func NewRoster(self netip.AddrPort, log *logrus.Entry) *Roster {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Roster{
		self:    self,
		present: make(map[netip.AddrPort]struct{}),
		dead:    NewRing(constants.DeadRingSize),
		log:     log,
	}
}

// Self returns the local node address.
func (r *Roster) Self() netip.AddrPort { return r.self }

// Update applies one piggybacked membership delta. Dead assertions are
// applied first so that an alive assertion for the same address in the same
// call wins: the address ends up alive and purged from the dead ring.
func (r *Roster) Update(alive, dead []netip.AddrPort) {
	r.Kill(dead)
	for _, a := range alive {
		if a == r.self {
			continue
		}
		if _, ok := r.present[a]; !ok {
			r.present[a] = struct{}{}
			r.alive = append(r.alive, a)
			r.log.WithField("member", a.String()).Info("member joined")
		}
		r.dead.Remove(a)
	}
}

// Kill removes each address from the alive list and records it in the dead
// ring so the death keeps disseminating via piggybacks.
func (r *Roster) Kill(addrs []netip.AddrPort) {
	for _, a := range addrs {
		if a == r.self {
			continue
		}
		r.Remove(a)
		r.dead.Push(a)
	}
}

// Remove deletes a from the alive list if present, keeping the round-robin
// cursor pointed at the same logical next peer.
func (r *Roster) Remove(a netip.AddrPort) bool {
	if _, ok := r.present[a]; !ok {
		return false
	}
	delete(r.present, a)
	idx := slices.Index(r.alive, a)
	r.alive = slices.Delete(r.alive, idx, idx+1)
	if idx <= r.next && r.next > 0 {
		r.next--
	}
	r.log.WithField("member", a.String()).Info("member removed")
	return true
}

// NextMember returns the next alive peer in round-robin order and advances
// the cursor. The second return is false when no peers are alive.
func (r *Roster) NextMember() (netip.AddrPort, bool) {
	if len(r.alive) == 0 {
		return netip.AddrPort{}, false
	}
	m := r.alive[r.next]
	r.next = (r.next + 1) % len(r.alive)
	return m, true
}

// NextSequence returns the current sequence number and increments it.
func (r *Roster) NextSequence() uint64 {
	s := r.seq
	r.seq++
	return s
}

// Contains reports whether a is in the alive list.
func (r *Roster) Contains(a netip.AddrPort) bool {
	_, ok := r.present[a]
	return ok
}

// NumAlive returns the size of the alive list.
func (r *Roster) NumAlive() int { return len(r.alive) }

// Alive returns a copy of the alive list in insertion order.
func (r *Roster) Alive() []netip.AddrPort {
	out := make([]netip.AddrPort, len(r.alive))
	copy(out, r.alive)
	return out
}

// AliveExcluding returns the alive list with skip filtered out. The probed
// peer is never included in its own piggyback.
func (r *Roster) AliveExcluding(skip netip.AddrPort) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(r.alive))
	for _, a := range r.alive {
		if a != skip {
			out = append(out, a)
		}
	}
	return out
}

// Dead returns the current contents of the dead ring.
func (r *Roster) Dead() []netip.AddrPort {
	return r.dead.Members()
}

// DeadContains reports whether a is currently in the dead ring.
func (r *Roster) DeadContains(a netip.AddrPort) bool {
	return r.dead.Contains(a)
}
