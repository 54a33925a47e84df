// Package wire implements the flock datagram codec. Every protocol message
// is a single canonical-CBOR array [kind, seq, epoch, alive, dead] carried in
// one UDP datagram of at most constants.MaxDatagram bytes. Addresses travel
// in a packed 6-byte form (IPv4 address + big-endian port); the wire is
// IPv4-only.
package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"

	"github.com/flocknet/flock/pkg/constants"
)

// Kind identifies a protocol message.
type Kind uint8

const (
	KindPing Kind = iota
	KindPingAck
	KindPingIndirect
)

// String returns the string representation of the message kind.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPingAck:
		return "ping-ack"
	case KindPingIndirect:
		return "ping-indirect"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// encMode is the canonical CBOR encoding mode; identical bytes for identical
// messages across all nodes of a deployment.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: canonical CBOR mode: %v", err))
	}
}

// envelope is the on-wire message layout.
type envelope struct {
	_     struct{} `cbor:",toarray"`
	Kind  uint8
	Seq   uint64
	Epoch uint64
	Alive [][]byte
	Dead  [][]byte
}

const packedAddrLen = 6

func packAddr(a netip.AddrPort) ([]byte, error) {
	addr := a.Addr().Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrAddrFamily, a)
	}
	raw := addr.As4()
	out := make([]byte, packedAddrLen)
	copy(out, raw[:])
	binary.BigEndian.PutUint16(out[4:], a.Port())
	return out, nil
}

func unpackAddr(b []byte) (netip.AddrPort, error) {
	if len(b) != packedAddrLen {
		return netip.AddrPort{}, fmt.Errorf("%w: address entry of %d bytes", ErrMalformed, len(b))
	}
	addr := netip.AddrFrom4([4]byte(b[:4]))
	return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(b[4:])), nil
}

// Builder assembles an outbound message.
type Builder struct {
	env   envelope
	limit int
	err   error
}

// Encode starts a message of the given kind, sequence number and epoch.
func Encode(kind Kind, seq, epoch uint64) *Builder {
	return &Builder{
		env: envelope{
			Kind:  uint8(kind),
			Seq:   seq,
			Epoch: epoch,
			Alive: [][]byte{},
			Dead:  [][]byte{},
		},
		limit: constants.MaxDatagram,
	}
}

// WithMembers attaches the alive and dead piggyback lists. List order is
// preserved; the first alive entry is position-significant for indirect
// probes and relayed acks.
func (b *Builder) WithMembers(alive, dead []netip.AddrPort) *Builder {
	for _, a := range alive {
		packed, err := packAddr(a)
		if err != nil {
			b.err = err
			return b
		}
		b.env.Alive = append(b.env.Alive, packed)
	}
	for _, d := range dead {
		packed, err := packAddr(d)
		if err != nil {
			b.err = err
			return b
		}
		b.env.Dead = append(b.env.Dead, packed)
	}
	return b
}

// Finalize encodes the message. When the encoding overruns the datagram
// budget, piggyback members are dropped from the tail until it fits — dead
// entries first, alive entries after; the header fields always fit.
func (b *Builder) Finalize() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for {
		data, err := encMode.Marshal(&b.env)
		if err != nil {
			return nil, fmt.Errorf("wire: encode: %w", err)
		}
		if len(data) <= b.limit {
			return data, nil
		}
		switch {
		case len(b.env.Dead) > 0:
			b.env.Dead = b.env.Dead[:len(b.env.Dead)-1]
		case len(b.env.Alive) > 0:
			b.env.Alive = b.env.Alive[:len(b.env.Alive)-1]
		default:
			return nil, ErrOversize
		}
	}
}

// Message is a decoded inbound datagram.
type Message struct {
	kind  Kind
	seq   uint64
	epoch uint64
	alive []netip.AddrPort
	dead  []netip.AddrPort
}

// Decode parses a received datagram. Any malformation — bad CBOR, an unknown
// kind tag, an address entry of the wrong width — yields an error wrapping
// ErrMalformed.
func Decode(data []byte) (*Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind > uint8(KindPingIndirect) {
		return nil, fmt.Errorf("%w: kind tag %d", ErrMalformed, env.Kind)
	}
	msg := &Message{
		kind:  Kind(env.Kind),
		seq:   env.Seq,
		epoch: env.Epoch,
	}
	for _, raw := range env.Alive {
		a, err := unpackAddr(raw)
		if err != nil {
			return nil, err
		}
		msg.alive = append(msg.alive, a)
	}
	for _, raw := range env.Dead {
		d, err := unpackAddr(raw)
		if err != nil {
			return nil, err
		}
		msg.dead = append(msg.dead, d)
	}
	return msg, nil
}

// Kind returns the message kind tag.
func (m *Message) Kind() Kind { return m.kind }

// Seq returns the sequence number.
func (m *Message) Seq() uint64 { return m.seq }

// Epoch returns the sender's epoch at emission time.
func (m *Message) Epoch() uint64 { return m.epoch }

// AliveMembers returns a copy of the alive piggyback list.
func (m *Message) AliveMembers() []netip.AddrPort {
	out := make([]netip.AddrPort, len(m.alive))
	copy(out, m.alive)
	return out
}

// DeadMembers returns a copy of the dead piggyback list.
func (m *Message) DeadMembers() []netip.AddrPort {
	out := make([]netip.AddrPort, len(m.dead))
	copy(out, m.dead)
	return out
}
