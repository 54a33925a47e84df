// Package telemetry holds the Prometheus instrumentation for a flock node.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the collector set incremented by the protocol loop. Construct
// with a nil registerer to get working but unregistered collectors.
type Metrics struct {
	Epochs         prometheus.Counter
	ProbesSent     prometheus.Counter
	IndirectProbes prometheus.Counter
	AcksReceived   prometheus.Counter
	MembersDead    prometheus.Counter
	MembersAlive   prometheus.Gauge
	DatagramsIn    prometheus.Counter
	DatagramsOut   prometheus.Counter
	SendErrors     prometheus.Counter
	DecodeErrors   prometheus.Counter
}

// New creates the metric set, registered against reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "flock",
			Subsystem: "swim",
			Name:      name,
			Help:      help,
		}
	}
	return &Metrics{
		Epochs:         f.NewCounter(opts("epochs_total", "Protocol periods elapsed.")),
		ProbesSent:     f.NewCounter(opts("probes_sent_total", "Direct probes emitted.")),
		IndirectProbes: f.NewCounter(opts("indirect_probes_total", "Probe escalations to relay peers.")),
		AcksReceived:   f.NewCounter(opts("acks_received_total", "PingAck datagrams received.")),
		MembersDead:    f.NewCounter(opts("members_declared_dead_total", "Members locally declared dead.")),
		MembersAlive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "flock",
			Subsystem: "swim",
			Name:      "members_alive",
			Help:      "Current size of the alive list.",
		}),
		DatagramsIn:  f.NewCounter(opts("datagrams_received_total", "Datagrams received.")),
		DatagramsOut: f.NewCounter(opts("datagrams_sent_total", "Datagrams sent.")),
		SendErrors:   f.NewCounter(opts("send_errors_total", "Datagram sends that failed and were dropped.")),
		DecodeErrors: f.NewCounter(opts("decode_errors_total", "Inbound datagrams that failed to decode.")),
	}
}
