//go:build linux

package mroute

import (
	"fmt"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
	"net"
	"syscall"
)

// RawChannel is a ControlChannel over a raw ICMPv6 socket
type RawChannel struct {
	conn *net.IPConn
	pc   *ipv6.PacketConn
	rc   syscall.RawConn
}

// OpenControlChannel opens a raw ICMPv6 socket for use as a multicast routing control channel.  This requires
// CAP_NET_RAW, and the Session operations on it require CAP_NET_ADMIN.
func OpenControlChannel() (*RawChannel, error) {
	c, err := net.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("error opening raw ICMPv6 socket: %w", err)
	}
	ipc, ok := c.(*net.IPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("unexpected connection type %T", c)
	}
	rc, err := ipc.SyscallConn()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("error getting raw connection: %w", err)
	}
	return &RawChannel{
		conn: ipc,
		pc:   ipv6.NewPacketConn(ipc),
		rc:   rc,
	}, nil
}

func (c *RawChannel) control(f func(fd int) error) error {
	var serr error
	err := c.rc.Control(func(fd uintptr) {
		serr = f(int(fd))
	})
	if err != nil {
		return err
	}
	return serr
}

func (c *RawChannel) SetsockoptInt(level int, opt int, value int) error {
	return c.control(func(fd int) error {
		return unix.SetsockoptInt(fd, level, opt, value)
	})
}

func (c *RawChannel) SetsockoptBytes(level int, opt int, value []byte) error {
	return c.control(func(fd int) error {
		return unix.SetsockoptString(fd, level, opt, string(value))
	})
}

func (c *RawChannel) SetICMPFilter(f *ipv6.ICMPFilter) error {
	return c.pc.SetICMPFilter(f)
}

// PacketConn returns the IPv6 packet connection underlying the channel
func (c *RawChannel) PacketConn() *ipv6.PacketConn {
	return c.pc
}

func (c *RawChannel) Close() error {
	return c.conn.Close()
}
