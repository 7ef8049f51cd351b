//go:build linux

package tun

import (
	"context"
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/x/chanreader"
	log "github.com/sirupsen/logrus"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"net"
	"net/netip"
)

// SetupLink creates a tun device, assigns it an address without duplicate address detection, and brings it up
func SetupLink(deviceName string, addr netip.Prefix, mods ...func(*linkParams)) (*water.Interface, netlink.Link, error) {
	p := linkParams{
		mtu: 1500,
	}
	for _, mod := range mods {
		mod(&p)
	}
	_, err := netlink.LinkByName(deviceName)
	if err == nil {
		return nil, nil, fmt.Errorf("tun device %s already exists", deviceName)
	}
	nle := netlink.LinkNotFoundError{}
	if !errors.As(err, &nle) {
		return nil, nil, fmt.Errorf("error accessing tun device: %w", err)
	}
	waterCfg := water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: deviceName,
		},
	}
	tunIf, err := water.New(waterCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening tunnel interface: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = tunIf.Close()
		}
	}()
	nl, err := netlink.LinkByName(deviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("error accessing tun device: %w", err)
	}
	err = netlink.AddrAdd(nl, &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   addr.Addr().AsSlice(),
			Mask: net.CIDRMask(addr.Bits(), 8*net.IPv6len),
		},
		Flags: unix.IFA_F_NODAD,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error setting tun device address: %w", err)
	}
	if nl.Attrs().MTU != int(p.mtu) {
		err = netlink.LinkSetMTU(nl, int(p.mtu))
		if err != nil {
			return nil, nil, fmt.Errorf("error setting tun interface MTU to %d: %w", p.mtu, err)
		}
	}
	err = netlink.LinkSetUp(nl)
	if err != nil {
		return nil, nil, fmt.Errorf("error activating tun device: %w", err)
	}
	success = true
	return tunIf, nl, nil
}

// New creates a tun device in the current network namespace and starts publishing the packets read from it.
// The device is closed when the context is cancelled.
func New(ctx context.Context, deviceName string, addr netip.Prefix, mods ...func(*linkParams)) (*Link, error) {
	p := linkParams{
		mtu:       1500,
		subBuffer: 64,
	}
	for _, mod := range mods {
		mod(&p)
	}
	tunIf, nl, err := SetupLink(deviceName, addr, mods...)
	if err != nil {
		return nil, err
	}
	l := &Link{
		tunRWC: tunIf,
		name:   deviceName,
		index:  nl.Attrs().Index,
		addr:   addr,
		mtu:    p.mtu,
	}
	l.Publisher = chanreader.NewPublisher(ctx, tunIf,
		chanreader.WithBufferSize(int(p.mtu)),
		chanreader.WithSubscriberBuffer(p.subBuffer))
	log.Debugf("tun device %s up with ifindex %d and address %s", deviceName, l.index, addr)
	return l, nil
}
