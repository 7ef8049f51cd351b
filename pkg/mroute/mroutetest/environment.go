package mroutetest

import (
	"context"
	"fmt"
	"github.com/ghjm/mroute6/pkg/links"
	"github.com/ghjm/mroute6/pkg/mroute"
	"github.com/ghjm/mroute6/pkg/oracle"
)

// FirstIndex is the interface index given to the first simulated device
const FirstIndex = 10

// Environment is a simulated namespace holding one device per network under test
type Environment struct {
	k      *Kernel
	cancel context.CancelFunc
	eps    []links.Endpoint
}

// NewEnvironment creates a kernel with one device per endpoint.  Each endpoint's Index and Link are filled in.
func NewEnvironment(ctx context.Context, eps []links.Endpoint) (*Environment, error) {
	ctx, cancel := context.WithCancel(ctx)
	env := &Environment{
		k:      NewKernel(),
		cancel: cancel,
	}
	for i, ep := range eps {
		d, err := env.k.AddDevice(ctx, FirstIndex+i, ep.Name)
		if err != nil {
			cancel()
			return nil, err
		}
		ep.Index = d.Index()
		ep.Link = d
		env.eps = append(env.eps, ep)
	}
	return env, nil
}

func (e *Environment) Kernel() *Kernel {
	return e.k
}

func (e *Environment) Endpoints() []links.Endpoint {
	return append([]links.Endpoint(nil), e.eps...)
}

func (e *Environment) OpenChannel() (mroute.ControlChannel, error) {
	return e.k.Open(), nil
}

// SendPing transmits the stimulus from the endpoint's device
func (e *Environment) SendPing(_ context.Context, netid int, s oracle.Stimulus, hopLimit uint8) error {
	ep, ok := links.ByNetID(e.eps, netid)
	if !ok {
		return fmt.Errorf("unknown network %d", netid)
	}
	return e.k.Transmit(ep.Index, s.Packet(hopLimit))
}

func (e *Environment) Close() error {
	e.cancel()
	return nil
}
