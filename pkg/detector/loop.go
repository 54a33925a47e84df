package detector

import (
	"errors"
	"net"
	"net/netip"

	"github.com/flocknet/flock/pkg/constants"
	"github.com/flocknet/flock/pkg/wire"
)

// commandKind tags a control-channel message from the facade.
type commandKind int

const (
	cmdStop commandKind = iota
	cmdMembers
)

// command is one control-channel message. reply is set for cmdMembers and
// buffered by the requester, so the loop's send never blocks.
type command struct {
	kind  commandKind
	reply chan []netip.AddrPort
}

// Run executes the event loop until a stop command arrives. Each iteration:
// drain the control channel, receive at most one datagram (blocking up to
// the poll interval), flush the request queue to the wire, expire pending
// acks, and let the epoch scheduler fire. Steady-state I/O errors are
// logged and absorbed.
func (d *Detector) Run() error {
	defer d.conn.Close()
	d.log.Info("detector started")
	d.lastTick = d.now()
	for {
		if stop := d.drainControl(); stop {
			d.log.Info("detector stopped")
			return nil
		}
		d.pollRead()
		d.flushQueue()
		d.expireAcks()
		d.advanceEpoch()
		d.metrics.MembersAlive.Set(float64(d.roster.NumAlive()))
	}
}

// Stop asks the loop to exit. The loop honors it ahead of any timer
// transition in its next iteration.
func (d *Detector) Stop() {
	d.control <- command{kind: cmdStop}
}

// Members returns [self] ++ alive via a synchronous control round trip.
func (d *Detector) Members() []netip.AddrPort {
	reply := make(chan []netip.AddrPort, 1)
	d.control <- command{kind: cmdMembers, reply: reply}
	return <-reply
}

// drainControl handles every buffered control message. A pending stop wins
// over everything else in the iteration, including epoch timers.
func (d *Detector) drainControl() (stop bool) {
	for {
		select {
		case cmd := <-d.control:
			switch cmd.kind {
			case cmdStop:
				return true
			case cmdMembers:
				members := make([]netip.AddrPort, 0, d.roster.NumAlive()+1)
				members = append(members, d.self)
				members = append(members, d.roster.Alive()...)
				cmd.reply <- members
			}
		default:
			return false
		}
	}
}

// pollRead blocks up to the poll interval for one datagram and dispatches
// it. The receive buffer is fixed at the datagram budget; oversized
// datagrams are truncated by the kernel and fail decoding.
func (d *Detector) pollRead() {
	if err := d.conn.SetReadDeadline(d.now().Add(constants.PollInterval)); err != nil {
		d.log.WithError(err).Warn("set read deadline failed")
		return
	}
	n, sender, err := d.conn.ReadFromUDPAddrPort(d.buf[:])
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		d.log.WithError(err).Warn("datagram receive failed")
		return
	}
	d.metrics.DatagramsIn.Inc()

	sender = netip.AddrPortFrom(sender.Addr().Unmap(), sender.Port())
	msg, err := wire.Decode(d.buf[:n])
	if err != nil {
		d.metrics.DecodeErrors.Inc()
		d.log.WithError(err).WithField("sender", sender.String()).
			Warn("dropping undecodable datagram")
		return
	}
	d.handleMessage(sender, msg)
}

// flushQueue renders every queued request. UDP sends never block, so the
// socket is treated as always writable.
func (d *Detector) flushQueue() {
	for {
		req, ok := d.queue.pop()
		if !ok {
			return
		}
		d.render(req)
	}
}

// expireAcks runs the ack-timeout scheduler over the pending table.
func (d *Detector) expireAcks() {
	for _, req := range d.acks.expire(d.now(), d.cfg.AckTimeout) {
		d.escalate(req)
	}
}
