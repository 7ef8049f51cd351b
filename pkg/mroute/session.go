package mroute

import (
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/cstruct"
	"github.com/ghjm/mroute6/pkg/x/statemachine"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
	"net/netip"
	"sync"
)

// State is the lifecycle state of a Session
type State int

const (
	Uninitialized State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type event int

const (
	evInit event = iota
	evDone
)

func (e event) String() string {
	if e == evInit {
		return "init"
	}
	return "done"
}

type entryKey struct {
	source netip.Addr
	group  netip.Addr
}

// Session is the control plane of one multicast routing socket.  It tracks the virtual interfaces and forwarding
// entries it has installed, and rejects operations the kernel would silently accept, such as forwarding to an
// interface that was never registered.
type Session struct {
	lock       sync.Mutex
	ch         ControlChannel
	fsm        statemachine.FSM[State, event]
	filter     ipv6.ICMPFilter
	registered map[uint16]InterfaceRecord
	entries    map[entryKey]ForwardingEntry
	closed     bool
}

type sessionParams struct {
	filter *ipv6.ICMPFilter
}

// WithICMPFilter sets the receive filter installed on the control socket by Initialize.  The default is an
// all-zero mask, which on Linux passes every ICMPv6 type.
func WithICMPFilter(f *ipv6.ICMPFilter) func(*sessionParams) {
	return func(p *sessionParams) {
		p.filter = f
	}
}

// NewSession creates a session over a control channel.  The session owns the channel and closes it on Close.
func NewSession(ch ControlChannel, mods ...func(*sessionParams)) *Session {
	p := &sessionParams{}
	for _, mod := range mods {
		mod(p)
	}
	s := &Session{
		ch:         ch,
		fsm:        statemachine.New[State, event](),
		registered: make(map[uint16]InterfaceRecord),
		entries:    make(map[entryKey]ForwardingEntry),
	}
	if p.filter != nil {
		s.filter = *p.filter
	}
	_ = s.fsm.Initialize(Uninitialized, statemachine.StateMap[State, event]{
		Uninitialized: func(e event) (State, error) {
			if e == evDone {
				return Uninitialized, ErrNotActive
			}
			if err := s.init(); err != nil {
				return Uninitialized, err
			}
			return Active, nil
		},
		Active: func(e event) (State, error) {
			if e == evInit {
				return Active, ErrAlreadyActive
			}
			if err := s.done(); err != nil {
				return Active, err
			}
			return Uninitialized, nil
		},
	})
	s.fsm.OnTransition(func(from State, to State, e event) {
		log.Debugf("mroute session %s -> %s", from, to)
	})
	return s
}

func (s *Session) init() error {
	err := s.ch.SetsockoptInt(unix.IPPROTO_IPV6, MRT6Init, 1)
	if err != nil {
		return translate(MRT6Init, err)
	}
	err = s.ch.SetICMPFilter(&s.filter)
	if err != nil {
		rbErr := s.ch.SetsockoptInt(unix.IPPROTO_IPV6, MRT6Done, 1)
		return errors.Join(fmt.Errorf("error setting ICMPv6 filter: %w", err), translate(MRT6Done, rbErr))
	}
	return nil
}

func (s *Session) done() error {
	return translate(MRT6Done, s.ch.SetsockoptInt(unix.IPPROTO_IPV6, MRT6Done, 1))
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.fsm.State()
}

func (s *Session) checkActive() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.fsm.State() != Active {
		return ErrNotActive
	}
	return nil
}

// Initialize enables multicast routing on the control socket and installs the ICMPv6 receive filter
func (s *Session) Initialize() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.fsm.Event(evInit)
}

// RegisterInterface adds a virtual interface, given as a mif6ctl record
func (s *Session) RegisterInterface(r *cstruct.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	ir, err := ParseInterfaceRecord(r)
	if err != nil {
		return err
	}
	if _, ok := s.registered[ir.VirtualIndex]; ok {
		return fmt.Errorf("%w: mif %d", ErrDuplicateInterface, ir.VirtualIndex)
	}
	err = s.ch.SetsockoptBytes(unix.IPPROTO_IPV6, MRT6AddMIF, r.Encode())
	if err != nil {
		return translate(MRT6AddMIF, err)
	}
	s.registered[ir.VirtualIndex] = ir
	log.Debugf("registered mif %d on ifindex %d", ir.VirtualIndex, ir.PhysicalIndex)
	return nil
}

// UnregisterInterface removes a virtual interface.  Only the virtual index of the record is significant.
func (s *Session) UnregisterInterface(r *cstruct.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	ir, err := ParseInterfaceRecord(r)
	if err != nil {
		return err
	}
	return s.unregister(ir.VirtualIndex, r.Encode())
}

func (s *Session) unregister(mifi uint16, wire []byte) error {
	err := s.ch.SetsockoptBytes(unix.IPPROTO_IPV6, MRT6DelMIF, wire)
	if err != nil {
		return translate(MRT6DelMIF, err)
	}
	delete(s.registered, mifi)
	log.Debugf("unregistered mif %d", mifi)
	return nil
}

// InstallForwardingEntry adds or replaces the forwarding entry for a (source, group) pair, given as a mf6cctl
// record.  The input and all output virtual interfaces must be registered.
func (s *Session) InstallForwardingEntry(r *cstruct.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	fe, err := ParseForwardingEntry(r)
	if err != nil {
		return err
	}
	var missing []uint16
	if _, ok := s.registered[fe.InputVirtualIndex]; !ok {
		missing = append(missing, fe.InputVirtualIndex)
	}
	for _, o := range fe.Outputs {
		if _, ok := s.registered[o]; !ok && o != fe.InputVirtualIndex {
			missing = append(missing, o)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: mif %v", ErrUnknownInterface, missing)
	}
	err = s.ch.SetsockoptBytes(unix.IPPROTO_IPV6, MRT6AddMFC, r.Encode())
	if err != nil {
		return translate(MRT6AddMFC, err)
	}
	s.entries[entryKey{source: fe.Source, group: fe.Group}] = fe
	log.Debugf("installed forwarding entry %s", fe)
	return nil
}

// RemoveForwardingEntry removes the forwarding entry matching the (source, group) pair of a mf6cctl record
func (s *Session) RemoveForwardingEntry(r *cstruct.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	fe, err := ParseForwardingEntry(r)
	if err != nil {
		return err
	}
	err = s.ch.SetsockoptBytes(unix.IPPROTO_IPV6, MRT6DelMFC, r.Encode())
	if err != nil {
		return translate(MRT6DelMFC, err)
	}
	delete(s.entries, entryKey{source: fe.Source, group: fe.Group})
	log.Debugf("removed forwarding entry (%s, %s)", fe.Source, fe.Group)
	return nil
}

// Shutdown disables multicast routing.  All virtual interfaces must have been unregistered first.  The kernel
// discards any remaining forwarding entries.
func (s *Session) Shutdown() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	return s.shutdown()
}

func (s *Session) shutdown() error {
	if len(s.registered) > 0 {
		return fmt.Errorf("%w: mif %v", ErrInterfacesRegistered, s.registeredIndices())
	}
	if err := s.fsm.Event(evDone); err != nil {
		return err
	}
	maps.Clear(s.entries)
	return nil
}

func (s *Session) registeredIndices() []uint16 {
	idx := maps.Keys(s.registered)
	slices.Sort(idx)
	return idx
}

// Registered returns the currently registered virtual interfaces, ordered by virtual index
func (s *Session) Registered() []InterfaceRecord {
	s.lock.Lock()
	defer s.lock.Unlock()
	recs := make([]InterfaceRecord, 0, len(s.registered))
	for _, i := range s.registeredIndices() {
		recs = append(recs, s.registered[i])
	}
	return recs
}

// Entries returns the currently installed forwarding entries, ordered by source and group
func (s *Session) Entries() []ForwardingEntry {
	s.lock.Lock()
	defer s.lock.Unlock()
	ents := maps.Values(s.entries)
	slices.SortFunc(ents, func(a, b ForwardingEntry) int {
		if c := a.Source.Compare(b.Source); c != 0 {
			return c
		}
		return a.Group.Compare(b.Group)
	})
	return ents
}

// Close unregisters any remaining virtual interfaces, shuts down routing if it is active, and closes the
// control channel.  It is safe to call more than once.
func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.fsm.State() == Active {
		for _, i := range s.registeredIndices() {
			r, err := BuildInterfaceRecord(i, int(s.registered[i].PhysicalIndex))
			if err == nil {
				err = s.unregister(i, r.Encode())
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("error unregistering mif %d: %w", i, err))
				delete(s.registered, i)
			}
		}
		if err := s.shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down: %w", err))
		}
	}
	if err := s.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing control channel: %w", err))
	}
	return errors.Join(errs...)
}
