package membership

import (
	"fmt"
	"net/netip"
	"testing"
)

func ringAddr(t *testing.T, i int) netip.AddrPort {
	t.Helper()
	a, err := netip.ParseAddrPort(fmt.Sprintf("10.0.0.%d:2345", i))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return a
}

func TestRingPushEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 4; i++ {
		r.Push(ringAddr(t, i))
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if r.Contains(ringAddr(t, 1)) {
		t.Error("oldest entry should have been evicted")
	}
	for i := 2; i <= 4; i++ {
		if !r.Contains(ringAddr(t, i)) {
			t.Errorf("entry %d missing", i)
		}
	}
}

func TestRingPushDeduplicates(t *testing.T) {
	r := NewRing(3)
	r.Push(ringAddr(t, 1))
	r.Push(ringAddr(t, 2))
	r.Push(ringAddr(t, 1))

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	members := r.Members()
	if members[0] != ringAddr(t, 2) || members[1] != ringAddr(t, 1) {
		t.Errorf("Members = %v, want [%v %v]", members, ringAddr(t, 2), ringAddr(t, 1))
	}
}

func TestRingRemove(t *testing.T) {
	r := NewRing(3)
	r.Push(ringAddr(t, 1))
	r.Push(ringAddr(t, 2))

	if n := r.Remove(ringAddr(t, 3)); n != 0 {
		t.Errorf("Remove(absent) = %d, want 0", n)
	}
	if n := r.Remove(ringAddr(t, 1)); n != 1 {
		t.Errorf("Remove(present) = %d, want 1", n)
	}
	if r.Contains(ringAddr(t, 1)) {
		t.Error("removed entry still present")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRingCapacityBound(t *testing.T) {
	r := NewRing(5)
	for i := 1; i <= 20; i++ {
		r.Push(ringAddr(t, i))
	}
	if r.Len() != 5 {
		t.Fatalf("Len = %d, want 5", r.Len())
	}
	for i := 16; i <= 20; i++ {
		if !r.Contains(ringAddr(t, i)) {
			t.Errorf("expected %v to survive", ringAddr(t, i))
		}
	}
}
