// Package csocket declares the socket address structures used in kernel control blocks.
package csocket

import (
	"encoding/binary"
	"fmt"
	"github.com/ghjm/mroute6/pkg/cstruct"
	"golang.org/x/sys/unix"
	"net/netip"
)

// SockaddrIn6 is struct sockaddr_in6.  Port and flowinfo are kept in network byte order, as the kernel does.
var SockaddrIn6 = cstruct.MustNew("sockaddr_in6", "HHI16sI",
	"sin6_family, sin6_port, sin6_flowinfo, sin6_addr, sin6_scope_id")

var ErrInvalidAddress = fmt.Errorf("not an IPv6 address")

// hton16 converts a host order value to the value that encodes to network order in a native field
func hton16(v uint16) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return SockaddrIn6.ByteOrder().Uint16(b)
}

// NewSockaddrIn6 builds a sockaddr_in6 record.  IPv4-mapped and IPv4 addresses are rejected.
func NewSockaddrIn6(addr netip.Addr, port uint16, scopeID uint32) (*cstruct.Record, error) {
	if !addr.Is6() || addr.Is4In6() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	a := addr.As16()
	return SockaddrIn6.NewRecord(unix.AF_INET6, hton16(port), uint32(0), a[:], scopeID)
}

// AddrPort extracts the address and host order port from a sockaddr_in6 record
func AddrPort(r *cstruct.Record) (netip.AddrPort, error) {
	if r.Type() != SockaddrIn6 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s is not sockaddr_in6", cstruct.ErrFieldType, r.Type().Name())
	}
	family, err := r.Uint("sin6_family")
	if err != nil {
		return netip.AddrPort{}, err
	}
	if family != unix.AF_INET6 {
		return netip.AddrPort{}, fmt.Errorf("%w: family %d", ErrInvalidAddress, family)
	}
	raw, err := r.Bytes("sin6_addr")
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := r.Uint("sin6_port")
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, _ := netip.AddrFromSlice(raw)
	return netip.AddrPortFrom(addr, hton16(uint16(port))), nil
}
