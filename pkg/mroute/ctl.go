package mroute

import (
	"fmt"
	"github.com/ghjm/mroute6/pkg/cstruct"
	"github.com/ghjm/mroute6/pkg/csocket"
	"net/netip"
	"strings"
)

// Mif6ctl is struct mif6ctl, the argument of MRT6_ADD_MIF and MRT6_DEL_MIF
var Mif6ctl = cstruct.MustNew("mif6ctl", "HBBHI",
	"mif6c_mifi, mif6c_flags, vifc_threshold, mif6c_pifi, vifc_rate_limit")

var ifsetFields = cstruct.WordFields("mf6cc_ifset", IfSetBits/32)

// Mf6cctl is struct mf6cctl, the argument of MRT6_ADD_MFC and MRT6_DEL_MFC
var Mf6cctl = cstruct.MustNew("mf6cctl", "SSH8I",
	"mf6cc_origin, mf6cc_mcastgrp, mf6cc_parent, "+strings.Join(ifsetFields, ", "),
	cstruct.WithNested(csocket.SockaddrIn6, csocket.SockaddrIn6))

// Defaults for new virtual interfaces
const (
	DefaultFlags     = 0
	DefaultThreshold = 1
	DefaultRateLimit = 0
)

// InterfaceRecord is the decoded form of a mif6ctl
type InterfaceRecord struct {
	VirtualIndex  uint16
	Flags         uint8
	Threshold     uint8
	PhysicalIndex uint16
	RateLimit     uint32
}

// ForwardingEntry is the decoded form of a mf6cctl
type ForwardingEntry struct {
	Source            netip.Addr
	Group             netip.Addr
	InputVirtualIndex uint16
	Outputs           []uint16
}

func (e ForwardingEntry) String() string {
	return fmt.Sprintf("(%s, %s) mif %d -> %v", e.Source, e.Group, e.InputVirtualIndex, e.Outputs)
}

// BuildInterfaceRecord builds the mif6ctl registering a physical interface as a virtual interface
func BuildInterfaceRecord(virtualIndex uint16, physicalIndex int) (*cstruct.Record, error) {
	return Mif6ctl.NewRecord(virtualIndex, DefaultFlags, DefaultThreshold, physicalIndex, DefaultRateLimit)
}

// BuildForwardingEntry builds the mf6cctl forwarding (source, group) traffic arriving on the input virtual
// interface to each of the output virtual interfaces.
func BuildForwardingEntry(source netip.Addr, group netip.Addr, inputVirtualIndex uint16,
	outputs []uint16) (*cstruct.Record, error) {
	if inputVirtualIndex >= IfSetBits {
		return nil, fmt.Errorf("%w: input %d", ErrIndexOutOfRange, inputVirtualIndex)
	}
	ifset := cstruct.NewBitSet(IfSetBits / 32)
	for _, o := range outputs {
		if err := ifset.Set(int(o)); err != nil {
			return nil, fmt.Errorf("%w: output %d", ErrIndexOutOfRange, o)
		}
	}
	if !group.IsMulticast() {
		return nil, fmt.Errorf("%w: group %s is not multicast", ErrInvalidAddress, group)
	}
	src, err := csocket.NewSockaddrIn6(source, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrInvalidAddress, err)
	}
	grp, err := csocket.NewSockaddrIn6(group, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: group: %w", ErrInvalidAddress, err)
	}
	r := Mf6cctl.Zero()
	if err = r.Set("mf6cc_origin", src); err != nil {
		return nil, err
	}
	if err = r.Set("mf6cc_mcastgrp", grp); err != nil {
		return nil, err
	}
	if err = r.Set("mf6cc_parent", inputVirtualIndex); err != nil {
		return nil, err
	}
	if err = r.SetBits(ifset, ifsetFields...); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseInterfaceRecord decodes a mif6ctl record
func ParseInterfaceRecord(r *cstruct.Record) (InterfaceRecord, error) {
	if r.Type() != Mif6ctl {
		return InterfaceRecord{}, fmt.Errorf("%w: %s is not mif6ctl", cstruct.ErrFieldType, r.Type().Name())
	}
	var vals [5]uint64
	for i, f := range Mif6ctl.Fields() {
		v, err := r.Uint(f.Name)
		if err != nil {
			return InterfaceRecord{}, err
		}
		vals[i] = v
	}
	return InterfaceRecord{
		VirtualIndex:  uint16(vals[0]),
		Flags:         uint8(vals[1]),
		Threshold:     uint8(vals[2]),
		PhysicalIndex: uint16(vals[3]),
		RateLimit:     uint32(vals[4]),
	}, nil
}

// ParseForwardingEntry decodes a mf6cctl record
func ParseForwardingEntry(r *cstruct.Record) (ForwardingEntry, error) {
	if r.Type() != Mf6cctl {
		return ForwardingEntry{}, fmt.Errorf("%w: %s is not mf6cctl", cstruct.ErrFieldType, r.Type().Name())
	}
	var e ForwardingEntry
	for name, dst := range map[string]*netip.Addr{"mf6cc_origin": &e.Source, "mf6cc_mcastgrp": &e.Group} {
		sa, err := r.Struct(name)
		if err != nil {
			return ForwardingEntry{}, err
		}
		ap, err := csocket.AddrPort(sa)
		if err != nil {
			return ForwardingEntry{}, fmt.Errorf("%s: %w", name, err)
		}
		*dst = ap.Addr()
	}
	parent, err := r.Uint("mf6cc_parent")
	if err != nil {
		return ForwardingEntry{}, err
	}
	e.InputVirtualIndex = uint16(parent)
	ifset, err := r.Bits(ifsetFields...)
	if err != nil {
		return ForwardingEntry{}, err
	}
	for _, i := range ifset.Indices() {
		e.Outputs = append(e.Outputs, uint16(i))
	}
	return e, nil
}

// DecodeInterfaceRecord decodes the wire form of a mif6ctl
func DecodeInterfaceRecord(b []byte) (InterfaceRecord, error) {
	r, err := Mif6ctl.Decode(b)
	if err != nil {
		return InterfaceRecord{}, err
	}
	return ParseInterfaceRecord(r)
}

// DecodeForwardingEntry decodes the wire form of a mf6cctl
func DecodeForwardingEntry(b []byte) (ForwardingEntry, error) {
	r, err := Mf6cctl.Decode(b)
	if err != nil {
		return ForwardingEntry{}, err
	}
	return ParseForwardingEntry(r)
}
