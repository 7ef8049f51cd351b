// Package mroute drives the Linux IPv6 multicast routing control plane (ip6mr).  A Session registers virtual
// interfaces (MIFs) and installs multicast forwarding cache entries (MFCs) over a raw ICMPv6 control socket.
package mroute

import (
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
)

// Socket options at IPPROTO_IPV6, from linux/mroute6.h
const (
	MRT6Init   = 200
	MRT6Done   = 201
	MRT6AddMIF = 202
	MRT6DelMIF = 203
	MRT6AddMFC = 204
	MRT6DelMFC = 205
)

// ICMP6Filter is the ICMP6_FILTER option at IPPROTO_ICMPV6
const ICMP6Filter = 1

// MaxMIFs is the kernel's limit on virtual interface indices
const MaxMIFs = 32

// IfSetBits is the width of the output interface set in mf6cctl
const IfSetBits = 256

var (
	ErrAlreadyActive        = fmt.Errorf("multicast routing already active")
	ErrNotActive            = fmt.Errorf("multicast routing not active")
	ErrDuplicateInterface   = fmt.Errorf("virtual interface already registered")
	ErrUnknownInterface     = fmt.Errorf("virtual interface not registered")
	ErrNoSuchDevice         = fmt.Errorf("no such physical interface")
	ErrUnknownEntry         = fmt.Errorf("no such forwarding entry")
	ErrInterfacesRegistered = fmt.Errorf("virtual interfaces still registered")
	ErrIndexOutOfRange      = fmt.Errorf("virtual interface index out of range")
	ErrInvalidAddress       = fmt.Errorf("invalid address")
	ErrSessionClosed        = fmt.Errorf("session closed")
)

// KernelError is a failed control operation, carrying the errno returned by the kernel
type KernelError struct {
	Op  string
	Err error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

func optName(opt int) string {
	switch opt {
	case MRT6Init:
		return "MRT6_INIT"
	case MRT6Done:
		return "MRT6_DONE"
	case MRT6AddMIF:
		return "MRT6_ADD_MIF"
	case MRT6DelMIF:
		return "MRT6_DEL_MIF"
	case MRT6AddMFC:
		return "MRT6_ADD_MFC"
	case MRT6DelMFC:
		return "MRT6_DEL_MFC"
	}
	return fmt.Sprintf("option %d", opt)
}

// errnoMap translates the errno values ip6mr returns for an option into typed errors
var errnoMap = map[int]map[unix.Errno]error{
	MRT6Init: {
		unix.EADDRINUSE: ErrAlreadyActive,
	},
	MRT6Done: {
		unix.EACCES: ErrNotActive,
	},
	MRT6AddMIF: {
		unix.EACCES:        ErrNotActive,
		unix.EADDRINUSE:    ErrDuplicateInterface,
		unix.EADDRNOTAVAIL: ErrNoSuchDevice,
		unix.ENFILE:        ErrIndexOutOfRange,
	},
	MRT6DelMIF: {
		unix.EACCES:        ErrNotActive,
		unix.EADDRNOTAVAIL: ErrUnknownInterface,
	},
	MRT6AddMFC: {
		unix.EACCES: ErrNotActive,
		unix.ENFILE: ErrIndexOutOfRange,
	},
	MRT6DelMFC: {
		unix.EACCES: ErrNotActive,
		unix.ENOENT: ErrUnknownEntry,
	},
}

// translate wraps a kernel error for an option, adding the typed error if the errno has a known meaning
func translate(opt int, err error) error {
	if err == nil {
		return nil
	}
	kerr := &KernelError{Op: optName(opt), Err: err}
	var errno unix.Errno
	if errors.As(err, &errno) {
		if typed, ok := errnoMap[opt][errno]; ok {
			return fmt.Errorf("%w: %w", typed, kerr)
		}
	}
	return kerr
}
