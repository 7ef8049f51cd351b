package mroute

import (
	"fmt"
	"golang.org/x/net/ipv6"
)

var ErrNotImplemented = fmt.Errorf("not implemented on this platform")

// ControlChannel is the socket through which multicast routing options are set.  Errors from the kernel
// should be returned so that errors.As can find the unix.Errno.
type ControlChannel interface {
	SetsockoptInt(level int, opt int, value int) error
	SetsockoptBytes(level int, opt int, value []byte) error
	SetICMPFilter(f *ipv6.ICMPFilter) error
	Close() error
}
