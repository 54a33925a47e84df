// Package constants defines the protocol defaults shared across flock packages.
package constants

import "time"

// Protocol timing.
const (
	// One peer is probed per protocol period.
	ProtocolPeriod = 5 * time.Second

	// Max wait for a PingAck before a probe escalates. Must stay below
	// ProtocolPeriod.
	AckTimeout = 1 * time.Second

	// Upper bound on how long the event loop blocks waiting for a datagram.
	PollInterval = 100 * time.Millisecond
)

// Dissemination.
const (
	// Relay peers contacted per indirect-probe escalation.
	NumIndirect = 3

	// Capacity of the recently-dead ring carried in piggybacks.
	DeadRingSize = 5
)

// Wire format.
const (
	// Hard per-datagram budget. Every peer in a deployment must agree on
	// this value; piggyback lists are truncated to fit.
	MaxDatagram = 64
)

// Defaults for the daemon.
const (
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 2345
)
