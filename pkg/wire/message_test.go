package wire

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/flocknet/flock/pkg/constants"
)

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("ParseAddrPort(%q): %v", s, err)
	}
	return a
}

func TestRoundTrip(t *testing.T) {
	alive := []netip.AddrPort{
		mustAddr(t, "127.0.0.1:2345"),
		mustAddr(t, "10.0.0.7:3456"),
	}
	dead := []netip.AddrPort{
		mustAddr(t, "192.168.1.9:2345"),
	}

	data, err := Encode(KindPing, 42, 7).WithMembers(alive, dead).Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(data) > constants.MaxDatagram {
		t.Fatalf("encoded %d bytes, budget is %d", len(data), constants.MaxDatagram)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind() != KindPing {
		t.Errorf("Kind = %v, want %v", msg.Kind(), KindPing)
	}
	if msg.Seq() != 42 {
		t.Errorf("Seq = %d, want 42", msg.Seq())
	}
	if msg.Epoch() != 7 {
		t.Errorf("Epoch = %d, want 7", msg.Epoch())
	}
	gotAlive := msg.AliveMembers()
	if len(gotAlive) != len(alive) {
		t.Fatalf("alive members = %v, want %v", gotAlive, alive)
	}
	for i := range alive {
		if gotAlive[i] != alive[i] {
			t.Errorf("alive[%d] = %v, want %v", i, gotAlive[i], alive[i])
		}
	}
	gotDead := msg.DeadMembers()
	if len(gotDead) != 1 || gotDead[0] != dead[0] {
		t.Errorf("dead members = %v, want %v", gotDead, dead)
	}
}

func TestRoundTripEmptyLists(t *testing.T) {
	data, err := Encode(KindPingAck, 1, 0).Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind() != KindPingAck {
		t.Errorf("Kind = %v, want %v", msg.Kind(), KindPingAck)
	}
	if len(msg.AliveMembers()) != 0 || len(msg.DeadMembers()) != 0 {
		t.Errorf("expected empty piggyback lists, got alive=%v dead=%v",
			msg.AliveMembers(), msg.DeadMembers())
	}
}

func TestBudgetTruncation(t *testing.T) {
	var alive, dead []netip.AddrPort
	for i := 0; i < 20; i++ {
		alive = append(alive, mustAddr(t, fmt.Sprintf("10.1.0.%d:2345", i+1)))
	}
	for i := 0; i < 10; i++ {
		dead = append(dead, mustAddr(t, fmt.Sprintf("10.2.0.%d:2345", i+1)))
	}

	data, err := Encode(KindPingIndirect, 9, 3).WithMembers(alive, dead).Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(data) > constants.MaxDatagram {
		t.Fatalf("encoded %d bytes, budget is %d", len(data), constants.MaxDatagram)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Dead entries are sacrificed before alive entries.
	if len(msg.DeadMembers()) != 0 {
		t.Errorf("expected dead list fully truncated, got %v", msg.DeadMembers())
	}
	gotAlive := msg.AliveMembers()
	if len(gotAlive) == 0 {
		t.Fatal("expected at least one alive member to survive truncation")
	}
	for i, a := range gotAlive {
		if a != alive[i] {
			t.Errorf("alive[%d] = %v, want prefix of input (%v)", i, a, alive[i])
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{0xff, 0x00, 0x12},
		[]byte("not cbor at all"),
	} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%x) error = %v, want ErrMalformed", data, err)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	data, err := encMode.Marshal(&envelope{Kind: 7, Alive: [][]byte{}, Dead: [][]byte{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode error = %v, want ErrMalformed", err)
	}
}

func TestDecodeBadAddressWidth(t *testing.T) {
	data, err := encMode.Marshal(&envelope{
		Kind:  uint8(KindPing),
		Alive: [][]byte{{1, 2, 3}},
		Dead:  [][]byte{},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode error = %v, want ErrMalformed", err)
	}
}

func TestEncodeRejectsIPv6(t *testing.T) {
	v6 := mustAddr(t, "[2001:db8::1]:2345")
	_, err := Encode(KindPing, 1, 1).WithMembers([]netip.AddrPort{v6}, nil).Finalize()
	if !errors.Is(err, ErrAddrFamily) {
		t.Errorf("Finalize error = %v, want ErrAddrFamily", err)
	}
}

func TestEncodeUnmapsMappedIPv4(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:10.0.0.1"), 2345)
	data, err := Encode(KindPing, 1, 1).WithMembers([]netip.AddrPort{mapped}, nil).Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := mustAddr(t, "10.0.0.1:2345")
	if got := msg.AliveMembers(); len(got) != 1 || got[0] != want {
		t.Errorf("alive = %v, want [%v]", got, want)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindPing:         "ping",
		KindPingAck:      "ping-ack",
		KindPingIndirect: "ping-indirect",
		Kind(9):          "unknown(9)",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", uint8(k), got, want)
		}
	}
}
