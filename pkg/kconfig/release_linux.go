//go:build linux

package kconfig

import (
	"golang.org/x/sys/unix"
)

// Release returns the running kernel's release string
func Release() (string, error) {
	var un unix.Utsname
	err := unix.Uname(&un)
	if err != nil {
		return "", err
	}
	return unix.ByteSliceToString(un.Release[:]), nil
}
