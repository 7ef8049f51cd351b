//go:build linux

package tun

import (
	"context"
	"fmt"
	"github.com/ghjm/mroute6/pkg/links/netns"
	"github.com/ghjm/mroute6/pkg/x/checkroot"
	"go.uber.org/goleak"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"net"
	"net/netip"
	"testing"
	"time"
)

func checkPacket(pkt []byte, port int, message string) bool {
	ipkt := header.IPv6(pkt)
	proto := ipkt.TransportProtocol()
	if proto == header.UDPProtocolNumber {
		udpPkt := header.UDP(ipkt.Payload())
		if udpPkt.DestinationPort() == uint16(port) {
			payload := string(udpPkt.Payload())
			if payload == message {
				return true
			}
		}
	}
	return false
}

func TestAsRootTun(t *testing.T) {
	defer goleak.VerifyNone(t)
	if !checkroot.CheckRoot() && !checkroot.CheckNetAdmin() {
		fmt.Printf("Skipping tun link tests due to lack of permissions\n")
		return
	}
	scope, err := netns.Enter()
	if err != nil {
		t.Fatalf("error entering namespace: %s", err)
	}
	defer func() {
		_ = scope.Close()
	}()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testMessage := "Hello, world!\n"
	local := netip.MustParsePrefix("fd01:d9d9:12eb:7465::1/64")
	remote := netip.MustParseAddr("fd01:d9d9:12eb:7465::2")
	tt, err := New(ctx, "tuntest0", local)
	if err != nil {
		t.Fatal(err)
	}
	if tt.Index() <= 0 {
		t.Fatalf("bad interface index %d", tt.Index())
	}
	packChan := tt.SubscribePackets()
	defer tt.UnsubscribePackets(packChan)

	uc, err := net.Dial("udp", net.JoinHostPort(remote.String(), "1000"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = uc.Close()
	}()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err = uc.Write([]byte(testMessage)); err != nil {
			t.Fatal(err)
		}
		select {
		case pkt := <-packChan:
			if checkPacket(pkt, 1000, testMessage) {
				return
			}
		case <-tick.C:
		case <-deadline:
			t.Fatalf("incoming message not received")
		}
	}
}
