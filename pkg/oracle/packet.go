// Package oracle predicts the packets that multicast forwarding should produce and checks them against what
// is observed on each capture point.
package oracle

import (
	"fmt"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"net/netip"
	"strings"
)

// Echo request fields used by the ping stimulus
const (
	PingIdent   = 0xff19
	PingSeq     = 3
	PingPayload = "foobarbaz"
)

// DefaultHopLimit is the hop limit of the stimulus as sent
const DefaultHopLimit = 64

// DefaultGroup is the site-local multicast group the stimulus is sent to
var DefaultGroup = netip.MustParseAddr("ff05::12")

var ErrHopLimitExhausted = fmt.Errorf("hop limit exhausted")

// Stimulus describes the ICMPv6 echo request sent to a multicast group
type Stimulus struct {
	Source  netip.Addr
	Group   netip.Addr
	Ident   uint16
	Seq     uint16
	Payload []byte
}

// NewStimulus returns the standard ping stimulus from a source address to DefaultGroup
func NewStimulus(source netip.Addr) Stimulus {
	return Stimulus{
		Source:  source,
		Group:   DefaultGroup,
		Ident:   PingIdent,
		Seq:     PingSeq,
		Payload: []byte(PingPayload),
	}
}

// Packet builds the full IPv6 packet image of the stimulus with the given hop limit
func (s Stimulus) Packet(hopLimit uint8) []byte {
	icmpLen := header.ICMPv6EchoMinimumSize + len(s.Payload)
	pkt := header.IPv6(make([]byte, header.IPv6MinimumSize+icmpLen))
	pkt.Encode(&header.IPv6Fields{
		PayloadLength:     uint16(icmpLen),
		TransportProtocol: header.ICMPv6ProtocolNumber,
		HopLimit:          hopLimit,
		SrcAddr:           tcpip.AddrFromSlice(s.Source.AsSlice()),
		DstAddr:           tcpip.AddrFromSlice(s.Group.AsSlice()),
	})
	icmp := header.ICMPv6(pkt.Payload())
	icmp.SetType(header.ICMPv6EchoRequest)
	icmp.SetCode(0)
	icmp.SetIdent(s.Ident)
	icmp.SetSequence(s.Seq)
	copy(icmp[header.ICMPv6EchoMinimumSize:], s.Payload)
	icmp.SetChecksum(header.ICMPv6Checksum(header.ICMPv6ChecksumParams{
		Header: icmp,
		Src:    pkt.SourceAddress(),
		Dst:    pkt.DestinationAddress(),
	}))
	return pkt
}

// ExpectedOriginal is the stimulus as it appears on the interface it was sent from
func ExpectedOriginal(s Stimulus, hopLimit uint8) []byte {
	return s.Packet(hopLimit)
}

// ExpectedForwarded is the stimulus as it appears after one hop of forwarding.  The checksum does not cover
// the hop limit, so only that field differs from the original.
func ExpectedForwarded(s Stimulus, hopLimit uint8) ([]byte, error) {
	if hopLimit <= 1 {
		return nil, fmt.Errorf("%w: cannot forward with hop limit %d", ErrHopLimitExhausted, hopLimit)
	}
	return s.Packet(hopLimit - 1), nil
}

var noiseTypes = map[header.ICMPv6Type]struct{}{
	header.ICMPv6RouterSolicit:             {},
	header.ICMPv6RouterAdvert:              {},
	header.ICMPv6NeighborSolicit:           {},
	header.ICMPv6NeighborAdvert:            {},
	header.ICMPv6RedirectMsg:               {},
	header.ICMPv6MulticastListenerQuery:    {},
	header.ICMPv6MulticastListenerReport:   {},
	header.ICMPv6MulticastListenerDone:     {},
	header.ICMPv6MulticastListenerV2Report: {},
}

// IsNoise reports whether a packet is link housekeeping traffic: neighbor discovery, router solicitation or
// MLD, the latter possibly behind a hop-by-hop header.  Anything else, including truncated or non-IPv6
// packets, is not noise and is checked against the expected image.
func IsNoise(pkt []byte) bool {
	if len(pkt) < header.IPv6MinimumSize || header.IPVersion(pkt) != header.IPv6Version {
		return false
	}
	ip := header.IPv6(pkt)
	next := ip.NextHeader()
	payload := pkt[header.IPv6MinimumSize:]
	if next == uint8(header.IPv6HopByHopOptionsExtHdrIdentifier) {
		if len(payload) < 8 {
			return false
		}
		extLen := (int(payload[1]) + 1) * 8
		if len(payload) < extLen {
			return false
		}
		next = payload[0]
		payload = payload[extLen:]
	}
	if tcpip.TransportProtocolNumber(next) != header.ICMPv6ProtocolNumber || len(payload) < header.ICMPv6MinimumSize {
		return false
	}
	_, ok := noiseTypes[header.ICMPv6(payload).Type()]
	return ok
}

// Describe renders a packet as a one-line-per-layer summary for diagnostics
func Describe(pkt []byte) string {
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv6, gopacket.NoCopy)
	var parts []string
	for _, l := range p.Layers() {
		switch v := l.(type) {
		case *layers.IPv6:
			parts = append(parts, fmt.Sprintf("IPv6 %s > %s hlim %d len %d flow %#x",
				v.SrcIP, v.DstIP, v.HopLimit, v.Length, v.FlowLabel))
		case *layers.ICMPv6:
			parts = append(parts, fmt.Sprintf("ICMPv6 %s csum %#04x", v.TypeCode, v.Checksum))
		case *layers.ICMPv6Echo:
			parts = append(parts, fmt.Sprintf("echo id %#x seq %d", v.Identifier, v.SeqNumber))
		default:
			parts = append(parts, fmt.Sprintf("%s (%d bytes)", l.LayerType(), len(l.LayerContents())))
		}
	}
	if el := p.ErrorLayer(); el != nil {
		parts = append(parts, fmt.Sprintf("decode error: %s", el.Error()))
	}
	return strings.Join(parts, " / ")
}

// diff lists the differing fields between an expected and observed IPv6 packet
func diff(expected []byte, observed []byte) []string {
	var d []string
	if len(observed) < header.IPv6MinimumSize {
		return []string{fmt.Sprintf("observed packet is %d bytes, too short for IPv6", len(observed))}
	}
	e, o := header.IPv6(expected), header.IPv6(observed)
	if e.HopLimit() != o.HopLimit() {
		d = append(d, fmt.Sprintf("hop limit: expected %d, observed %d", e.HopLimit(), o.HopLimit()))
	}
	if e.SourceAddress() != o.SourceAddress() {
		d = append(d, fmt.Sprintf("source: expected %s, observed %s", e.SourceAddress(), o.SourceAddress()))
	}
	if e.DestinationAddress() != o.DestinationAddress() {
		d = append(d, fmt.Sprintf("destination: expected %s, observed %s", e.DestinationAddress(),
			o.DestinationAddress()))
	}
	if e.NextHeader() != o.NextHeader() {
		d = append(d, fmt.Sprintf("next header: expected %d, observed %d", e.NextHeader(), o.NextHeader()))
	}
	_, eflow := e.TOS()
	_, oflow := o.TOS()
	if eflow != oflow {
		d = append(d, fmt.Sprintf("flow label: expected %#x, observed %#x", eflow, oflow))
	}
	if len(expected) != len(observed) {
		d = append(d, fmt.Sprintf("length: expected %d, observed %d", len(expected), len(observed)))
	}
	if len(d) == 0 {
		for i := range expected {
			if i >= len(observed) || expected[i] != observed[i] {
				d = append(d, fmt.Sprintf("first differing byte at offset %d", i))
				break
			}
		}
	}
	return d
}
