// Package detector implements the flock failure detector: the per-period
// probing cycle, indirect probing on direct-probe timeout, piggybacked
// membership dissemination, and the bookkeeping of outstanding probe
// acknowledgments. All protocol state is owned by a single event-loop
// goroutine (see loop.go); the host talks to it only through the control
// channel held by the facade.
package detector

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flocknet/flock/pkg/constants"
	"github.com/flocknet/flock/pkg/membership"
	"github.com/flocknet/flock/pkg/telemetry"
	"github.com/flocknet/flock/pkg/wire"
)

// Config holds detector configuration. Zero fields other than BindAddr fall
// back to the defaults in pkg/constants; a zero BindAddr is rejected by New.
type Config struct {
	// BindAddr is the UDP endpoint to listen on. A zero port is resolved
	// by the kernel at bind time.
	BindAddr netip.AddrPort

	// ProtocolPeriod is the interval between epoch ticks / direct probes.
	ProtocolPeriod time.Duration

	// AckTimeout is the max wait before a probe escalates. Must be below
	// ProtocolPeriod.
	AckTimeout time.Duration

	// NumIndirect is the max number of relay peers per escalation.
	NumIndirect int

	Logger  *logrus.Logger
	Metrics *telemetry.Metrics
}

func (c Config) withDefaults() Config {
	if c.ProtocolPeriod == 0 {
		c.ProtocolPeriod = constants.ProtocolPeriod
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = constants.AckTimeout
	}
	if c.NumIndirect == 0 {
		c.NumIndirect = constants.NumIndirect
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.New(nil)
	}
	return c
}

// Detector runs the SWIM failure-detector state machine for one node.
type Detector struct {
	cfg      Config
	conn     *net.UDPConn
	self     netip.AddrPort
	roster   *membership.Roster
	queue    requestQueue
	acks     ackTable
	epoch    uint64
	lastTick time.Time
	control  chan command
	metrics  *telemetry.Metrics
	log      *logrus.Entry

	// now is the loop's clock; overridden in tests.
	now func() time.Time

	buf [constants.MaxDatagram]byte
}

// New binds the UDP socket and prepares an idle detector. Invalid timing or
// bind address and bind failures are returned here; once Run starts, errors
// are absorbed.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if cfg.AckTimeout >= cfg.ProtocolPeriod {
		return nil, fmt.Errorf("detector: ack timeout %v must be below protocol period %v",
			cfg.AckTimeout, cfg.ProtocolPeriod)
	}
	if !cfg.BindAddr.IsValid() {
		return nil, fmt.Errorf("detector: invalid bind address %v", cfg.BindAddr)
	}

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(cfg.BindAddr))
	if err != nil {
		return nil, fmt.Errorf("detector: bind %s: %w", cfg.BindAddr, err)
	}
	bound := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	self := netip.AddrPortFrom(bound.Addr().Unmap(), bound.Port())

	log := cfg.Logger.WithField("node", self.String())
	return &Detector{
		cfg:     cfg,
		conn:    conn,
		self:    self,
		roster:  membership.NewRoster(self, log),
		control: make(chan command, 8),
		metrics: cfg.Metrics,
		log:     log,
		now:     time.Now,
	}, nil
}

// Addr returns the bound local endpoint.
func (d *Detector) Addr() netip.AddrPort { return d.self }

// Close releases the socket of a detector that never ran. Run closes the
// socket itself on exit.
func (d *Detector) Close() error { return d.conn.Close() }

// Join seeds the alive list with one peer and front-loads an immediate
// probe to it. Call before Run.
func (d *Detector) Join(seed netip.AddrPort) {
	d.roster.Update([]netip.AddrPort{seed}, nil)
	d.queue.pushFront(request{
		kind:   reqPing,
		target: seed,
		seq:    d.roster.NextSequence(),
		epoch:  d.epoch,
	})
}

// handleMessage feeds the piggybacked membership delta into the roster and
// dispatches on the message kind. For an indirect ping the first alive entry
// names the peer to probe, not an alive assertion, so it is excluded from
// the update.
func (d *Detector) handleMessage(sender netip.AddrPort, msg *wire.Message) {
	alive := msg.AliveMembers()

	switch msg.Kind() {
	case wire.KindPing:
		d.roster.Update(append(alive, sender), msg.DeadMembers())
		d.queue.pushBack(request{
			kind:   reqAck,
			target: sender,
			seq:    msg.Seq(),
			epoch:  msg.Epoch(),
		})

	case wire.KindPingIndirect:
		if len(alive) == 0 {
			d.log.WithField("sender", sender.String()).
				Warn("dropping indirect ping without a relay target")
			return
		}
		d.roster.Update(append(alive[1:], sender), msg.DeadMembers())
		d.queue.pushBack(request{
			kind:    reqPingProxy,
			target:  alive[0],
			seq:     msg.Seq(),
			epoch:   msg.Epoch(),
			replyTo: sender,
		})

	case wire.KindPingAck:
		d.roster.Update(append(alive, sender), msg.DeadMembers())
		d.metrics.AcksReceived.Inc()
		req, ok := d.acks.discharge(sender, msg)
		if !ok {
			return
		}
		if req.kind == reqPingProxy {
			// Forward the target's ack to the peer that asked us to probe.
			d.queue.pushBack(request{
				kind:    reqAckIndirect,
				target:  req.replyTo,
				seq:     msg.Seq(),
				epoch:   msg.Epoch(),
				subject: req.target,
			})
		}
	}
}

// render turns one queued request into wire datagrams.
func (d *Detector) render(req request) {
	switch req.kind {
	case reqPing:
		d.emit(req.target, wire.KindPing, req.seq, req.epoch,
			d.roster.AliveExcluding(req.target), d.roster.Dead())
		d.acks.add(req, d.now())
		d.metrics.ProbesSent.Inc()

	case reqPingIndirect:
		// The probed peer rides at position 0 of the alive list so each
		// relay knows who to probe.
		alive := append([]netip.AddrPort{req.target}, d.roster.AliveExcluding(req.target)...)
		for _, relay := range d.relayPeers(req.target) {
			d.emit(relay, wire.KindPingIndirect, req.seq, req.epoch, alive, d.roster.Dead())
		}
		d.acks.add(req, d.now())
		d.metrics.IndirectProbes.Inc()

	case reqPingProxy:
		d.emit(req.target, wire.KindPing, req.seq, req.epoch,
			d.roster.AliveExcluding(req.target), d.roster.Dead())
		d.acks.add(req, d.now())

	case reqAck:
		d.emit(req.target, wire.KindPingAck, req.seq, req.epoch,
			d.roster.Alive(), d.roster.Dead())

	case reqAckIndirect:
		alive := append([]netip.AddrPort{req.subject}, d.roster.AliveExcluding(req.subject)...)
		d.emit(req.target, wire.KindPingAck, req.seq, req.epoch, alive, d.roster.Dead())
	}
}

// relayPeers picks up to NumIndirect alive peers, excluding the probed one,
// in roster order with no reselection when fewer exist.
func (d *Detector) relayPeers(target netip.AddrPort) []netip.AddrPort {
	peers := d.roster.AliveExcluding(target)
	if len(peers) > d.cfg.NumIndirect {
		peers = peers[:d.cfg.NumIndirect]
	}
	return peers
}

// emit encodes and sends one datagram, dropping it on any failure.
func (d *Detector) emit(target netip.AddrPort, kind wire.Kind, seq, epoch uint64, alive, dead []netip.AddrPort) {
	data, err := wire.Encode(kind, seq, epoch).WithMembers(alive, dead).Finalize()
	if err != nil {
		d.log.WithError(err).WithField("kind", kind.String()).Warn("dropping unencodable message")
		return
	}
	if _, err := d.conn.WriteToUDPAddrPort(data, target); err != nil {
		d.metrics.SendErrors.Inc()
		d.log.WithError(err).WithField("target", target.String()).Warn("datagram send failed")
		return
	}
	d.metrics.DatagramsOut.Inc()
}

// escalate applies the timeout rule for one expired pending ack: an
// unanswered ping retries through relays, an unanswered indirect ping
// declares the peer dead, an unanswered proxied ping is dropped because the
// probe origin runs its own escalation.
func (d *Detector) escalate(req request) {
	switch req.kind {
	case reqPing:
		d.log.WithFields(logrus.Fields{
			"member": req.target.String(),
			"seq":    req.seq,
		}).Debug("probe unacknowledged, trying relays")
		d.queue.pushBack(request{
			kind:   reqPingIndirect,
			target: req.target,
			seq:    req.seq,
			epoch:  req.epoch,
		})

	case reqPingIndirect:
		d.log.WithField("member", req.target.String()).Warn("declaring member dead")
		d.roster.Kill([]netip.AddrPort{req.target})
		d.metrics.MembersDead.Inc()

	case reqPingProxy:
	}
}

// advanceEpoch runs the epoch scheduler: once per protocol period, mint a
// probe for the next round-robin peer ahead of any buffered replies, then
// open the new epoch.
func (d *Detector) advanceEpoch() {
	now := d.now()
	if now.Sub(d.lastTick) < d.cfg.ProtocolPeriod {
		return
	}
	if target, ok := d.roster.NextMember(); ok {
		d.queue.pushFront(request{
			kind:   reqPing,
			target: target,
			seq:    d.roster.NextSequence(),
			epoch:  d.epoch,
		})
	}
	d.epoch++
	d.lastTick = now
	d.metrics.Epochs.Inc()
	d.log.WithField("epoch", d.epoch).Debug("new epoch")
}
