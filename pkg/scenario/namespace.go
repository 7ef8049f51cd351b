package scenario

import "fmt"

var ErrNotImplemented = fmt.Errorf("not implemented on this platform")

type nsParams struct {
	sysctls   map[string]string
	mtu       uint16
	subBuffer int
}

// WithSysctls sets sysctls in the namespace in addition to, or in place of, the netns defaults
func WithSysctls(sysctls map[string]string) func(*nsParams) {
	return func(p *nsParams) {
		p.sysctls = sysctls
	}
}

// WithMTU sets the MTU of every tun device
func WithMTU(mtu uint16) func(*nsParams) {
	return func(p *nsParams) {
		p.mtu = mtu
	}
}

// WithCaptureBuffer sets how many packets may queue on each capture subscription between checks
func WithCaptureBuffer(n int) func(*nsParams) {
	return func(p *nsParams) {
		p.subBuffer = n
	}
}
