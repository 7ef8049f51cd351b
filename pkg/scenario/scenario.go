// Package scenario runs multicast forwarding checks: it registers every network under test as a virtual
// interface, installs source-to-group routes, sends a ping into each route and verifies where copies appear.
package scenario

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/config"
	"github.com/ghjm/mroute6/pkg/links"
	"github.com/ghjm/mroute6/pkg/mroute"
	"github.com/ghjm/mroute6/pkg/oracle"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"net/netip"
	"time"
)

var (
	ErrUnknownNetwork  = fmt.Errorf("unknown network")
	ErrUnknownScenario = fmt.Errorf("unknown scenario")
	ErrTornDown        = fmt.Errorf("harness torn down")
)

// Environment provides the interfaces under test and the sockets needed to drive them
type Environment interface {
	// Endpoints returns the networks under test with their interface index, address and capture link.
	Endpoints() []links.Endpoint
	// OpenChannel opens a new multicast routing control socket.
	OpenChannel() (mroute.ControlChannel, error)
	// SendPing sends the stimulus to its group from the network's address, out the network's interface.
	SendPing(ctx context.Context, netid int, s oracle.Stimulus, hopLimit uint8) error
	Close() error
}

// Networks returns the endpoints ordered by network ID.  The position of each network in this order is its
// virtual interface index.
func Networks(eps []links.Endpoint) []links.Endpoint {
	sorted := append([]links.Endpoint(nil), eps...)
	slices.SortFunc(sorted, func(a, b links.Endpoint) int {
		return cmp.Compare(a.NetID, b.NetID)
	})
	return sorted
}

// Endpoints builds the endpoint list described by a configuration, without interface indices or links
func Endpoints(cfg *config.Config) ([]links.Endpoint, error) {
	var eps []links.Endpoint
	for _, n := range cfg.Networks {
		p, err := cfg.Address(n.NetID)
		if err != nil {
			return nil, err
		}
		eps = append(eps, links.Endpoint{
			NetID: n.NetID,
			Name:  n.Name,
			Addr:  p.Addr(),
		})
	}
	return Networks(eps), nil
}

type params struct {
	group    netip.Addr
	hopLimit uint8
	timeout  time.Duration
	quiet    time.Duration
	recorder *oracle.Recorder
	runID    uuid.UUID
}

func WithGroup(group netip.Addr) func(*params) {
	return func(p *params) {
		p.group = group
	}
}

func WithHopLimit(hopLimit uint8) func(*params) {
	return func(p *params) {
		p.hopLimit = hopLimit
	}
}

// WithTimeouts sets how long to wait for an expected packet, and how long a network must stay quiet when no
// packet is expected.
func WithTimeouts(timeout time.Duration, quiet time.Duration) func(*params) {
	return func(p *params) {
		p.timeout = timeout
		p.quiet = quiet
	}
}

func WithRecorder(r *oracle.Recorder) func(*params) {
	return func(p *params) {
		p.recorder = r
	}
}

func WithRunID(id uuid.UUID) func(*params) {
	return func(p *params) {
		p.runID = id
	}
}

// WithConfig applies the global settings of a configuration
func WithConfig(cfg *config.Config) func(*params) {
	return func(p *params) {
		if g, err := cfg.Global.GroupAddr(); err == nil {
			p.group = g
		}
		p.hopLimit = cfg.Global.HopLimit
		p.timeout = cfg.Global.Timeout
		p.quiet = cfg.Global.Quiet
	}
}

// Harness is an initialized multicast routing session with every network registered, plus an oracle
// attached to every network's link.
type Harness struct {
	params
	env     Environment
	session *mroute.Session
	oracle  *oracle.Oracle
	nets    []links.Endpoint
	vifs    map[int]uint16
	torn    bool
}

// Setup opens a control channel, initializes multicast routing and registers each network as a virtual
// interface.  If any step fails, everything done so far is undone.
func Setup(env Environment, mods ...func(*params)) (*Harness, error) {
	p := params{
		group:    oracle.DefaultGroup,
		hopLimit: oracle.DefaultHopLimit,
		timeout:  time.Second,
		quiet:    200 * time.Millisecond,
		runID:    uuid.New(),
	}
	for _, mod := range mods {
		mod(&p)
	}
	ch, err := env.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("error opening control channel: %w", err)
	}
	h := &Harness{
		params:  p,
		env:     env,
		session: mroute.NewSession(ch),
		nets:    Networks(env.Endpoints()),
		vifs:    make(map[int]uint16),
	}
	if p.recorder != nil {
		h.oracle = oracle.New(oracle.WithRecorder(p.recorder))
	} else {
		h.oracle = oracle.New()
	}
	success := false
	defer func() {
		if !success {
			h.oracle.Close()
			_ = h.session.Close()
		}
	}()
	if len(h.nets) > mroute.MaxMIFs {
		return nil, fmt.Errorf("%w: %d networks", mroute.ErrIndexOutOfRange, len(h.nets))
	}
	err = h.session.Initialize()
	if err != nil {
		return nil, fmt.Errorf("error initializing multicast routing: %w", err)
	}
	for i, ep := range h.nets {
		vif := uint16(i)
		r, err := mroute.BuildInterfaceRecord(vif, ep.Index)
		if err != nil {
			return nil, err
		}
		err = h.session.RegisterInterface(r)
		if err != nil {
			return nil, fmt.Errorf("error registering %s: %w", ep, err)
		}
		h.vifs[ep.NetID] = vif
		if ep.Link != nil {
			h.oracle.Attach(ep.Name, ep.Link)
		}
	}
	success = true
	log.Infof("run %s: %d networks registered", h.runID, len(h.nets))
	return h, nil
}

func (h *Harness) RunID() uuid.UUID {
	return h.runID
}

func (h *Harness) Session() *mroute.Session {
	return h.session
}

func (h *Harness) Oracle() *oracle.Oracle {
	return h.oracle
}

// VirtualIndex returns the virtual interface index a network was registered with
func (h *Harness) VirtualIndex(netid int) (uint16, bool) {
	vif, ok := h.vifs[netid]
	return vif, ok
}

func (h *Harness) network(netid int) (links.Endpoint, uint16, error) {
	ep, ok := links.ByNetID(h.nets, netid)
	if !ok {
		return links.Endpoint{}, 0, fmt.Errorf("%w: %d", ErrUnknownNetwork, netid)
	}
	return ep, h.vifs[netid], nil
}

// Stimulus returns the ping sent from a network
func (h *Harness) Stimulus(netid int) (oracle.Stimulus, error) {
	ep, _, err := h.network(netid)
	if err != nil {
		return oracle.Stimulus{}, err
	}
	s := oracle.NewStimulus(ep.Addr)
	s.Group = h.group
	return s, nil
}

// EnableSourceToGroupRouting installs a forwarding entry for traffic from the input network's address to the
// group, arriving on the input network and copied to each output network.
func (h *Harness) EnableSourceToGroupRouting(iif int, oifs []int) error {
	if h.torn {
		return ErrTornDown
	}
	ep, in, err := h.network(iif)
	if err != nil {
		return err
	}
	outs := make([]uint16, 0, len(oifs))
	for _, o := range oifs {
		_, vif, err := h.network(o)
		if err != nil {
			return err
		}
		outs = append(outs, vif)
	}
	r, err := mroute.BuildForwardingEntry(ep.Addr, h.group, in, outs)
	if err != nil {
		return err
	}
	return h.session.InstallForwardingEntry(r)
}

// CheckPingForwarding sends a ping from the input network and reports a failure unless exactly one original
// appears on the input network, exactly one copy with the hop limit decremented appears on each output
// network, and nothing appears anywhere else.
func (h *Harness) CheckPingForwarding(ctx context.Context, t oracle.Reporter, iif int, oifs []int) bool {
	t.Helper()
	if h.torn {
		t.Errorf("%s", ErrTornDown)
		return false
	}
	ep, _, err := h.network(iif)
	if err != nil {
		t.Errorf("%s", err)
		return false
	}
	s, _ := h.Stimulus(iif)
	forwarded, err := oracle.ExpectedForwarded(s, h.hopLimit)
	if err != nil {
		t.Errorf("%s", err)
		return false
	}
	h.oracle.Reset()
	err = h.env.SendPing(ctx, iif, s, h.hopLimit)
	if err != nil {
		t.Errorf("error sending ping from %s: %s", ep, err)
		return false
	}
	// seen holds the networks whose one expected packet has arrived, which must then stay quiet
	seen := make(map[int]bool)
	targeted := map[int]struct{}{iif: {}}
	seen[iif] = h.oracle.ExpectPacketOn(t, ep.Name, oracle.ExpectedOriginal(s, h.hopLimit), h.timeout)
	ok := seen[iif]
	for _, o := range oifs {
		oep, _, err := h.network(o)
		if err != nil {
			t.Errorf("%s", err)
			ok = false
			continue
		}
		targeted[o] = struct{}{}
		seen[o] = h.oracle.ExpectPacketOn(t, oep.Name, forwarded, h.timeout)
		if !seen[o] {
			ok = false
		}
	}
	for _, n := range h.nets {
		if n.Link == nil {
			continue
		}
		if _, isTarget := targeted[n.NetID]; isTarget && !seen[n.NetID] {
			continue
		}
		if !h.oracle.ExpectNoPacketOn(t, n.Name, h.quiet) {
			ok = false
		}
	}
	return ok
}

// Run installs every route of a scenario, then checks forwarding for each route in turn
func (h *Harness) Run(ctx context.Context, t oracle.Reporter, s config.Scenario) (bool, error) {
	t.Helper()
	for _, r := range s.Routes {
		if err := h.EnableSourceToGroupRouting(r.Input, r.Outputs); err != nil {
			return false, fmt.Errorf("scenario %s: error enabling route from %d: %w", s.Name, r.Input, err)
		}
	}
	ok := true
	for _, r := range s.Routes {
		log.Infof("run %s: scenario %s: ping from %d, expecting %v", h.runID, s.Name, r.Input, r.Outputs)
		if !h.CheckPingForwarding(ctx, t, r.Input, r.Outputs) {
			ok = false
		}
	}
	return ok, nil
}

// Teardown unregisters every network and closes the control channel, which discards all forwarding entries.
// It is safe to call more than once.
func (h *Harness) Teardown() error {
	if h.torn {
		return nil
	}
	h.torn = true
	h.oracle.Close()
	var errs []error
	for _, ep := range h.nets {
		vif, ok := h.vifs[ep.NetID]
		if !ok {
			continue
		}
		r, err := mroute.BuildInterfaceRecord(vif, ep.Index)
		if err == nil {
			err = h.session.UnregisterInterface(r)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("error unregistering %s: %w", ep, err))
		}
		delete(h.vifs, ep.NetID)
	}
	if err := h.session.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Infof("run %s: torn down", h.runID)
	return errors.Join(errs...)
}

// RunScenario sets up a harness over an environment, runs the named scenario from the configuration and tears
// the harness down.
func RunScenario(ctx context.Context, t oracle.Reporter, env Environment, cfg *config.Config, name string,
	mods ...func(*params)) (passed bool, err error) {
	t.Helper()
	s, ok := cfg.Scenario(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	h, err := Setup(env, append([]func(*params){WithConfig(cfg)}, mods...)...)
	if err != nil {
		return false, err
	}
	defer func() {
		err = errors.Join(err, h.Teardown())
	}()
	return h.Run(ctx, t, s)
}
