//go:build !linux

package kconfig

import "fmt"

func Release() (string, error) {
	return "", fmt.Errorf("not implemented on this platform")
}
