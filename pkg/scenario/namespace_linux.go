//go:build linux

package scenario

import (
	"context"
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/links"
	"github.com/ghjm/mroute6/pkg/links/netns"
	"github.com/ghjm/mroute6/pkg/links/tun"
	"github.com/ghjm/mroute6/pkg/mroute"
	"github.com/ghjm/mroute6/pkg/oracle"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
	"net"
	"net/netip"
)

// NamespaceEnvironment is a fresh network namespace holding one tun device per network.  It must be created,
// used and closed from a single goroutine, which stays locked to its OS thread until Close.
type NamespaceEnvironment struct {
	scope  *netns.Scope
	cancel context.CancelFunc
	tuns   []*tun.Link
	eps    []links.Endpoint
}

// NewNamespaceEnvironment enters a new network namespace and creates a tun device with a /64 address for
// each endpoint.  Each endpoint's Index and Link are filled in.
func NewNamespaceEnvironment(ctx context.Context, eps []links.Endpoint,
	mods ...func(*nsParams)) (*NamespaceEnvironment, error) {
	p := &nsParams{
		mtu:       1500,
		subBuffer: 64,
	}
	for _, mod := range mods {
		mod(p)
	}
	scope, err := netns.Enter(netns.WithSysctls(p.sysctls))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	env := &NamespaceEnvironment{
		scope:  scope,
		cancel: cancel,
	}
	for _, ep := range eps {
		l, err := tun.New(ctx, ep.Name, netip.PrefixFrom(ep.Addr, 64),
			tun.WithMTU(p.mtu), tun.WithSubscriberBuffer(p.subBuffer))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error creating %s: %w", ep.Name, err), env.Close())
		}
		env.tuns = append(env.tuns, l)
		ep.Index = l.Index()
		ep.Link = l
		env.eps = append(env.eps, ep)
	}
	return env, nil
}

func (e *NamespaceEnvironment) Endpoints() []links.Endpoint {
	return append([]links.Endpoint(nil), e.eps...)
}

func (e *NamespaceEnvironment) OpenChannel() (mroute.ControlChannel, error) {
	ch, err := mroute.OpenControlChannel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// SendPing sends the stimulus from a raw ICMPv6 socket bound to the network's address.  The kernel fills in
// the checksum.
func (e *NamespaceEnvironment) SendPing(ctx context.Context, netid int, s oracle.Stimulus, hopLimit uint8) error {
	ep, ok := links.ByNetID(e.eps, netid)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNetwork, netid)
	}
	ifi, err := net.InterfaceByIndex(ep.Index)
	if err != nil {
		return err
	}
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", s.Source.String())
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	pc := conn.IPv6PacketConn()
	if err = pc.SetMulticastInterface(ifi); err != nil {
		return fmt.Errorf("error setting multicast interface: %w", err)
	}
	if err = pc.SetMulticastHopLimit(int(hopLimit)); err != nil {
		return fmt.Errorf("error setting multicast hop limit: %w", err)
	}
	msg := icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Body: &icmp.Echo{
			ID:   int(s.Ident),
			Seq:  int(s.Seq),
			Data: s.Payload,
		},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(b, &net.IPAddr{IP: s.Group.AsSlice()})
	if err != nil {
		return err
	}
	log.Debugf("sent ping from %s to %s with hop limit %d", ep, s.Group, hopLimit)
	return nil
}

// Close removes the tun devices and returns to the original namespace
func (e *NamespaceEnvironment) Close() error {
	e.cancel()
	for _, l := range e.tuns {
		<-l.Done()
	}
	return e.scope.Close()
}
