//go:build !linux

package mroute

import (
	"golang.org/x/net/ipv6"
)

type RawChannel struct{}

func OpenControlChannel() (*RawChannel, error) {
	return nil, ErrNotImplemented
}

func (c *RawChannel) SetsockoptInt(level int, opt int, value int) error {
	return ErrNotImplemented
}

func (c *RawChannel) SetsockoptBytes(level int, opt int, value []byte) error {
	return ErrNotImplemented
}

func (c *RawChannel) SetICMPFilter(f *ipv6.ICMPFilter) error {
	return ErrNotImplemented
}

func (c *RawChannel) PacketConn() *ipv6.PacketConn {
	return nil
}

func (c *RawChannel) Close() error {
	return nil
}
