//go:build !linux

package scenario

import (
	"context"
	"github.com/ghjm/mroute6/pkg/links"
	"github.com/ghjm/mroute6/pkg/mroute"
	"github.com/ghjm/mroute6/pkg/oracle"
)

type NamespaceEnvironment struct{}

func NewNamespaceEnvironment(_ context.Context, _ []links.Endpoint, _ ...func(*nsParams)) (*NamespaceEnvironment,
	error) {
	return nil, ErrNotImplemented
}

func (e *NamespaceEnvironment) Endpoints() []links.Endpoint {
	return nil
}

func (e *NamespaceEnvironment) OpenChannel() (mroute.ControlChannel, error) {
	return nil, ErrNotImplemented
}

func (e *NamespaceEnvironment) SendPing(_ context.Context, _ int, _ oracle.Stimulus, _ uint8) error {
	return ErrNotImplemented
}

func (e *NamespaceEnvironment) Close() error {
	return ErrNotImplemented
}
