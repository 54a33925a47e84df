// Package node is the public facade over the flock failure detector. It
// spawns the protocol loop on a worker goroutine and forwards control
// requests to it; all protocol state stays inside the loop.
package node

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flocknet/flock/pkg/detector"
	"github.com/flocknet/flock/pkg/telemetry"
)

// Config holds node configuration. Zero fields other than BindAddr fall back
// to the protocol defaults; a zero BindAddr makes Join fail.
type Config struct {
	BindAddr       netip.AddrPort
	ProtocolPeriod time.Duration
	AckTimeout     time.Duration
	NumIndirect    int
	Logger         *logrus.Logger
	Metrics        *telemetry.Metrics
}

// Node runs one cluster member.
type Node struct {
	mu      sync.Mutex
	cfg     Config
	det     *detector.Detector
	done    chan error
	joined  bool
	stopped bool
}

// New creates an idle node. Nothing is bound until Join.
func New(cfg Config) *Node {
	return &Node{cfg: cfg}
}

// Join binds the UDP socket, seeds the membership with one peer, and starts
// the protocol loop with an immediate probe of the seed front-loaded. It may
// be called at most once per node.
func (n *Node) Join(seed netip.AddrPort) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.joined {
		return errors.New("node: already joined")
	}
	if !seed.IsValid() {
		return fmt.Errorf("node: invalid seed address %v", seed)
	}

	det, err := detector.New(detector.Config{
		BindAddr:       n.cfg.BindAddr,
		ProtocolPeriod: n.cfg.ProtocolPeriod,
		AckTimeout:     n.cfg.AckTimeout,
		NumIndirect:    n.cfg.NumIndirect,
		Logger:         n.cfg.Logger,
		Metrics:        n.cfg.Metrics,
	})
	if err != nil {
		return err
	}
	if seed == det.Addr() {
		det.Close()
		return errors.New("node: cannot join self")
	}

	det.Join(seed)
	n.det = det
	n.done = make(chan error, 1)
	go func() { n.done <- det.Run() }()
	n.joined = true
	return nil
}

// Members returns a snapshot of the local view: this node's address followed
// by every peer currently believed alive.
func (n *Node) Members() ([]netip.AddrPort, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.joined {
		return nil, errors.New("node: not joined")
	}
	if n.stopped {
		return nil, errors.New("node: stopped")
	}
	return n.det.Members(), nil
}

// Stop asks the loop to terminate and joins the worker.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.joined {
		return errors.New("node: not joined")
	}
	if n.stopped {
		return errors.New("node: already stopped")
	}
	n.det.Stop()
	err := <-n.done
	n.stopped = true
	return err
}

// Addr returns the bound local endpoint, or the zero AddrPort before Join.
func (n *Node) Addr() netip.AddrPort {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.det == nil {
		return netip.AddrPort{}
	}
	return n.det.Addr()
}
