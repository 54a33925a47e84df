package detector

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/flocknet/flock/pkg/wire"
)

// pendingAck is an outstanding probe awaiting its PingAck.
type pendingAck struct {
	req      request
	issuedAt time.Time
}

// matches implements the discharge policy for one inbound ack. A direct ping
// or a proxied ping is acknowledged by its target; an indirect ping is
// acknowledged through a relay, so the probed peer is identified by position
// 0 of the ack's alive piggyback rather than by the sender address.
func (p pendingAck) matches(sender netip.AddrPort, seq uint64, alive []netip.AddrPort) bool {
	if seq != p.req.seq {
		return false
	}
	switch p.req.kind {
	case reqPing, reqPingProxy:
		return sender == p.req.target
	case reqPingIndirect:
		return len(alive) > 0 && alive[0] == p.req.target
	}
	return false
}

// ackTable is the unordered collection of outstanding probes, scanned once
// per loop iteration.
type ackTable struct {
	entries []pendingAck
}

// add records an outstanding probe. Only probe-shaped requests may wait for
// an ack; anything else is a programmer error.
func (t *ackTable) add(req request, now time.Time) {
	switch req.kind {
	case reqPing, reqPingIndirect, reqPingProxy:
	default:
		panic(fmt.Sprintf("detector: %s request can never await an ack", req.kind))
	}
	t.entries = append(t.entries, pendingAck{req: req, issuedAt: now})
}

// discharge removes and returns at most one entry matching the inbound ack.
// An ack matching nothing is ignored by the caller: the probed peer may
// already have been declared dead and its pending entry escalated away.
func (t *ackTable) discharge(sender netip.AddrPort, msg *wire.Message) (request, bool) {
	alive := msg.AliveMembers()
	for i, p := range t.entries {
		if p.matches(sender, msg.Seq(), alive) {
			t.entries = slices.Delete(t.entries, i, i+1)
			return p.req, true
		}
	}
	return request{}, false
}

// expire removes and returns every entry whose ack timeout has elapsed.
func (t *ackTable) expire(now time.Time, timeout time.Duration) []request {
	var expired []request
	t.entries = slices.DeleteFunc(t.entries, func(p pendingAck) bool {
		if now.Sub(p.issuedAt) < timeout {
			return false
		}
		expired = append(expired, p.req)
		return true
	})
	return expired
}

func (t *ackTable) len() int {
	return len(t.entries)
}
