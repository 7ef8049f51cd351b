package mroutetest

import (
	"context"
	"fmt"
	"github.com/ghjm/mroute6/pkg/x/chanreader"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"net/netip"
)

// Device is a simulated network interface.  Packets the kernel sends out the device are published to
// subscribers, which makes it usable as a capture point.
type Device struct {
	*chanreader.Publisher
	k     *Kernel
	index int
	name  string
}

// AddDevice creates a device with the given interface index
func (k *Kernel) AddDevice(ctx context.Context, index int, name string) (*Device, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	if _, ok := k.devices[index]; ok {
		return nil, fmt.Errorf("device index %d already in use", index)
	}
	d := &Device{
		Publisher: chanreader.NewBrokerPublisher(ctx, 64),
		k:         k,
		index:     index,
		name:      name,
	}
	k.devices[index] = d
	return d, nil
}

func (d *Device) Index() int {
	return d.index
}

func (d *Device) Name() string {
	return d.name
}

// SendPacket delivers a packet to the kernel as if it had been received on the device
func (d *Device) SendPacket(packet []byte) error {
	d.k.deliver(d.k.input(d.index, packet))
	return nil
}

type delivery struct {
	dev    *Device
	packet []byte
}

// Transmit sends a locally generated packet out a device.  As in the real kernel, a multicast packet sent
// while multicast routing is active is also looped back into multicast routing input on that device.
func (k *Kernel) Transmit(index int, packet []byte) error {
	k.lock.Lock()
	d, ok := k.devices[index]
	k.lock.Unlock()
	if !ok {
		return fmt.Errorf("no device with index %d", index)
	}
	d.Publish(packet)
	if k.Active() {
		k.deliver(k.input(index, packet))
	}
	return nil
}

func (k *Kernel) deliver(ds []delivery) {
	for _, dl := range ds {
		dl.dev.Publish(dl.packet)
	}
}

// input runs multicast routing on a packet received on a device, returning the forwarded copies
func (k *Kernel) input(index int, packet []byte) []delivery {
	if len(packet) < 40 || packet[0]>>4 != 6 {
		return nil
	}
	var src, dst [16]byte
	copy(src[:], packet[8:24])
	copy(dst[:], packet[24:40])
	source := netip.AddrFrom16(src)
	group := netip.AddrFrom16(dst)
	if !group.IsMulticast() || group.IsLinkLocalMulticast() || group.IsInterfaceLocalMulticast() {
		return nil
	}
	hopLimit := packet[7]

	k.lock.Lock()
	defer k.lock.Unlock()
	if k.owner == nil {
		return nil
	}
	vif := -1
	for i, m := range k.mifs {
		if int(m.PhysicalIndex) == index {
			vif = int(i)
			break
		}
	}
	if vif < 0 {
		return nil
	}
	e, ok := k.mfcs[mfcKey{origin: source, group: group}]
	if !ok {
		log.Debugf("simulated kernel: no forwarding entry for (%s, %s)", source, group)
		return nil
	}
	if int(e.InputVirtualIndex) != vif {
		log.Debugf("simulated kernel: (%s, %s) arrived on mif %d, expected %d", source, group, vif,
			e.InputVirtualIndex)
		return nil
	}
	outs := append([]uint16(nil), e.Outputs...)
	slices.Sort(outs)
	var ds []delivery
	for _, o := range outs {
		m, ok := k.mifs[o]
		if !ok {
			continue
		}
		if hopLimit <= m.Threshold {
			continue
		}
		dev, ok := k.devices[int(m.PhysicalIndex)]
		if !ok {
			continue
		}
		fwd := append([]byte(nil), packet...)
		fwd[7] = hopLimit - 1
		ds = append(ds, delivery{dev: dev, packet: fwd})
	}
	return ds
}
