// Package links describes the network interfaces that multicast forwarding is observed on.
package links

import (
	"fmt"
	"net/netip"
)

// Link is a network interface whose outgoing packets can be observed
type Link interface {
	// SendPacket injects a single IPv6 packet as if it had been received on the interface.
	SendPacket(packet []byte) error
	// SubscribePackets returns a channel which will receive packets the kernel sends out the interface.
	SubscribePackets() <-chan []byte
	// UnsubscribePackets unsubscribes a channel previously subscribed with SubscribePackets.
	UnsubscribePackets(pktCh <-chan []byte)
}

// Endpoint is one network under test: an interface, its kernel index and its address
type Endpoint struct {
	NetID int
	Name  string
	Index int
	Addr  netip.Addr
	Link  Link
}

func (e Endpoint) String() string {
	return fmt.Sprintf("net %d (%s, ifindex %d, %s)", e.NetID, e.Name, e.Index, e.Addr)
}

// ByNetID finds the endpoint for a network identifier
func ByNetID(eps []Endpoint, netid int) (Endpoint, bool) {
	for _, ep := range eps {
		if ep.NetID == netid {
			return ep, true
		}
	}
	return Endpoint{}, false
}
