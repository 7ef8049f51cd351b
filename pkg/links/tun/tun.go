package tun

import (
	"fmt"
	"github.com/ghjm/mroute6/pkg/x/chanreader"
	"io"
	"net/netip"
)

var ErrNotImplemented = fmt.Errorf("not implemented on this platform")

// Link is a tun device acting as a capture point.  Packets the kernel routes out the device are published to
// subscribers; packets written with SendPacket arrive at the kernel as if received on the device.
type Link struct {
	*chanreader.Publisher
	tunRWC io.ReadWriteCloser
	name   string
	index  int
	addr   netip.Prefix
	mtu    uint16
}

type linkParams struct {
	mtu       uint16
	subBuffer int
}

// WithMTU sets the MTU of the tun device
func WithMTU(mtu uint16) func(*linkParams) {
	return func(p *linkParams) {
		p.mtu = mtu
	}
}

// WithSubscriberBuffer sets how many packets each subscriber may have queued
func WithSubscriberBuffer(n int) func(*linkParams) {
	return func(p *linkParams) {
		p.subBuffer = n
	}
}

func (l *Link) SendPacket(packet []byte) error {
	n, err := l.tunRWC.Write(packet)
	if err != nil {
		return err
	}
	if n != len(packet) {
		return fmt.Errorf("tun device only wrote %d bytes of %d", n, len(packet))
	}
	return nil
}

func (l *Link) Name() string {
	return l.name
}

// Index returns the kernel interface index of the device
func (l *Link) Index() int {
	return l.index
}

func (l *Link) Addr() netip.Prefix {
	return l.addr
}

func (l *Link) MTU() uint16 {
	return l.mtu
}
