//go:build linux

package checkroot

import (
	"github.com/syndtr/gocapability/capability"
	"os"
)

// CheckNetAdmin returns true if the process has CAP_NET_ADMIN, which multicast routing and namespace setup
// require
func CheckNetAdmin() bool {
	c, err := capability.NewPid2(0)
	if err != nil {
		return false
	}
	if err = c.Load(); err != nil {
		return false
	}
	return c.Get(capability.EFFECTIVE, capability.CAP_NET_ADMIN)
}

// CheckNetRaw returns true if the process can open raw sockets
func CheckNetRaw() bool {
	c, err := capability.NewPid2(0)
	if err != nil {
		return false
	}
	if err = c.Load(); err != nil {
		return false
	}
	return c.Get(capability.EFFECTIVE, capability.CAP_NET_RAW)
}

func CheckRoot() bool {
	return os.Geteuid() == 0
}

// Privileged returns true if the process can create namespaces, tun devices and routing sockets
func Privileged() bool {
	return CheckRoot() || (CheckNetAdmin() && CheckNetRaw())
}
