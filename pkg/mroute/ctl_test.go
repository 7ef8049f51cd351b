package mroute

import (
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/cstruct"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"net/netip"
	"os"
	"testing"
)

var (
	testSource = netip.MustParseAddr("fd00:0:0:1::1")
	testGroup  = netip.MustParseAddr("ff05::12")
)

func TestControlBlockLayout(t *testing.T) {
	if Mif6ctl.Size() != 12 {
		t.Errorf("mif6ctl is %d bytes, expected 12", Mif6ctl.Size())
	}
	if Mf6cctl.Size() != 92 {
		t.Errorf("mf6cctl is %d bytes, expected 92", Mf6cctl.Size())
	}
	offsets := map[string]int{
		"mf6cc_origin":   0,
		"mf6cc_mcastgrp": 28,
		"mf6cc_parent":   56,
		"mf6cc_ifset0":   60,
		"mf6cc_ifset7":   88,
	}
	for name, want := range offsets {
		f, ok := Mf6cctl.Field(name)
		if !ok {
			t.Fatalf("no field %s", name)
		}
		if f.Offset != want {
			t.Errorf("%s at offset %d, expected %d", name, f.Offset, want)
		}
	}
	f, _ := Mif6ctl.Field("mif6c_pifi")
	if f.Offset != 4 {
		t.Errorf("mif6c_pifi at offset %d, expected 4", f.Offset)
	}
}

func TestBuildInterfaceRecord(t *testing.T) {
	r, err := BuildInterfaceRecord(3, 7)
	if err != nil {
		t.Fatalf("error building interface record: %s", err)
	}
	order := Mif6ctl.ByteOrder()
	want := make([]byte, 12)
	order.PutUint16(want[0:], 3)
	want[2] = DefaultFlags
	want[3] = DefaultThreshold
	order.PutUint16(want[4:], 7)
	order.PutUint32(want[8:], DefaultRateLimit)
	if diff := cmp.Diff(want, r.Encode()); diff != "" {
		t.Errorf("encoding differs (-want +got):\n%s", diff)
	}
	ir, err := DecodeInterfaceRecord(r.Encode())
	if err != nil {
		t.Fatalf("error decoding: %s", err)
	}
	if diff := cmp.Diff(InterfaceRecord{VirtualIndex: 3, Threshold: 1, PhysicalIndex: 7}, ir); diff != "" {
		t.Errorf("decoded record differs (-want +got):\n%s", diff)
	}
	if _, err = BuildInterfaceRecord(0, 70000); !errors.Is(err, cstruct.ErrFieldOverflow) {
		t.Errorf("expected ErrFieldOverflow for physical index 70000, got %v", err)
	}
}

func TestBuildForwardingEntry(t *testing.T) {
	r, err := BuildForwardingEntry(testSource, testGroup, 0, []uint16{1, 2})
	if err != nil {
		t.Fatalf("error building forwarding entry: %s", err)
	}
	b := r.Encode()
	if len(b) != 92 {
		t.Fatalf("encoded entry is %d bytes", len(b))
	}
	order := Mf6cctl.ByteOrder()
	if order.Uint16(b[0:]) != unix.AF_INET6 || order.Uint16(b[28:]) != unix.AF_INET6 {
		t.Errorf("wrong address family")
	}
	src, grp := testSource.As16(), testGroup.As16()
	if diff := cmp.Diff(src[:], b[8:24]); diff != "" {
		t.Errorf("origin differs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(grp[:], b[36:52]); diff != "" {
		t.Errorf("group differs (-want +got):\n%s", diff)
	}
	if order.Uint16(b[56:]) != 0 || b[58] != 0 || b[59] != 0 {
		t.Errorf("wrong parent or nonzero padding: % x", b[56:60])
	}
	if order.Uint32(b[60:]) != 0x6 {
		t.Errorf("expected ifset word 0 to be 0x6, got %#x", order.Uint32(b[60:]))
	}
	for i := 1; i < 8; i++ {
		if w := order.Uint32(b[60+4*i:]); w != 0 {
			t.Errorf("ifset word %d is %#x", i, w)
		}
	}

	fe, err := DecodeForwardingEntry(b)
	if err != nil {
		t.Fatalf("error decoding: %s", err)
	}
	want := ForwardingEntry{Source: testSource, Group: testGroup, InputVirtualIndex: 0, Outputs: []uint16{1, 2}}
	if diff := cmp.Diff(want, fe, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("decoded entry differs (-want +got):\n%s", diff)
	}
}

func TestBuildForwardingEntryBits(t *testing.T) {
	for _, o := range []uint16{0, 31, 32, 100, 255} {
		r, err := BuildForwardingEntry(testSource, testGroup, 1, []uint16{o})
		if err != nil {
			t.Fatalf("output %d: %s", o, err)
		}
		fe, err := ParseForwardingEntry(r)
		if err != nil {
			t.Fatal(err)
		}
		if len(fe.Outputs) != 1 || fe.Outputs[0] != o {
			t.Errorf("output %d decoded as %v", o, fe.Outputs)
		}
		w, _ := r.Uint(fmt.Sprintf("mf6cc_ifset%d", o/32))
		if w != 1<<(o%32) {
			t.Errorf("output %d: word %d is %#x", o, o/32, w)
		}
	}
}

func TestBuildForwardingEntryErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  netip.Addr
		group   netip.Addr
		input   uint16
		outputs []uint16
		err     error
	}{
		{"output out of range", testSource, testGroup, 0, []uint16{1, 256}, ErrIndexOutOfRange},
		{"input out of range", testSource, testGroup, 256, nil, ErrIndexOutOfRange},
		{"ipv4 source", netip.MustParseAddr("10.0.0.1"), testGroup, 0, nil, ErrInvalidAddress},
		{"mapped source", netip.MustParseAddr("::ffff:10.0.0.1"), testGroup, 0, nil, ErrInvalidAddress},
		{"unicast group", testSource, testSource, 0, nil, ErrInvalidAddress},
	}
	for _, tt := range tests {
		_, err := BuildForwardingEntry(tt.source, tt.group, tt.input, tt.outputs)
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.err, err)
		}
	}
}

func TestParseWrongType(t *testing.T) {
	r, _ := BuildInterfaceRecord(0, 1)
	if _, err := ParseForwardingEntry(r); !errors.Is(err, cstruct.ErrFieldType) {
		t.Errorf("expected ErrFieldType, got %v", err)
	}
	fe, _ := BuildForwardingEntry(testSource, testGroup, 0, nil)
	if _, err := ParseInterfaceRecord(fe); !errors.Is(err, cstruct.ErrFieldType) {
		t.Errorf("expected ErrFieldType, got %v", err)
	}
	if _, err := DecodeForwardingEntry(make([]byte, 90)); !errors.Is(err, cstruct.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestTranslate(t *testing.T) {
	if translate(MRT6AddMIF, nil) != nil {
		t.Fatal("nil error translated to non-nil")
	}
	tests := []struct {
		opt   int
		err   error
		typed error
	}{
		{MRT6Init, unix.EADDRINUSE, ErrAlreadyActive},
		{MRT6AddMIF, unix.EADDRINUSE, ErrDuplicateInterface},
		{MRT6AddMIF, os.NewSyscallError("setsockopt", unix.ENFILE), ErrIndexOutOfRange},
		{MRT6DelMIF, unix.EADDRNOTAVAIL, ErrUnknownInterface},
		{MRT6AddMFC, unix.EACCES, ErrNotActive},
		{MRT6DelMFC, unix.ENOENT, ErrUnknownEntry},
		{MRT6AddMFC, unix.EPERM, nil},
	}
	for _, tt := range tests {
		err := translate(tt.opt, tt.err)
		var kerr *KernelError
		if !errors.As(err, &kerr) {
			t.Errorf("%s: no KernelError in %v", optName(tt.opt), err)
			continue
		}
		if kerr.Op != optName(tt.opt) {
			t.Errorf("wrong op %s", kerr.Op)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: original error lost from %v", optName(tt.opt), err)
		}
		if tt.typed != nil && !errors.Is(err, tt.typed) {
			t.Errorf("%s: expected %v in %v", optName(tt.opt), tt.typed, err)
		}
	}
}
