//go:build !linux

package tun

import (
	"context"
	"net/netip"
)

func New(ctx context.Context, deviceName string, addr netip.Prefix, mods ...func(*linkParams)) (*Link, error) {
	return nil, ErrNotImplemented
}
