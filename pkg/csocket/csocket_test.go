package csocket

import (
	"errors"
	"net/netip"
	"testing"
)

func TestSockaddrIn6Layout(t *testing.T) {
	if SockaddrIn6.Size() != 28 {
		t.Fatalf("sockaddr_in6 should be 28 bytes, got %d", SockaddrIn6.Size())
	}
	f, ok := SockaddrIn6.Field("sin6_addr")
	if !ok || f.Offset != 8 || f.Size != 16 {
		t.Fatalf("sin6_addr at wrong place: %+v", f)
	}
}

func TestSockaddrIn6(t *testing.T) {
	addr := netip.MustParseAddr("2001:db8::1")
	r, err := NewSockaddrIn6(addr, 0x1234, 3)
	if err != nil {
		t.Fatal(err)
	}
	b := r.Encode()
	if b[2] != 0x12 || b[3] != 0x34 {
		t.Errorf("port not in network byte order: %x", b[2:4])
	}
	if b[8] != 0x20 || b[9] != 0x01 || b[23] != 0x01 {
		t.Errorf("address not at offset 8: %x", b[8:24])
	}
	d, err := SockaddrIn6.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	ap, err := AddrPort(d)
	if err != nil {
		t.Fatal(err)
	}
	if ap.Addr() != addr || ap.Port() != 0x1234 {
		t.Errorf("expected %s port %d, got %s", addr, 0x1234, ap)
	}
}

func TestSockaddrIn6Rejects(t *testing.T) {
	for _, s := range []string{"192.0.2.1", "::ffff:192.0.2.1"} {
		_, err := NewSockaddrIn6(netip.MustParseAddr(s), 0, 0)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("%s: expected ErrInvalidAddress, got %v", s, err)
		}
	}
	if _, err := AddrPort(SockaddrIn6.Zero()); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for family 0, got %v", err)
	}
}
