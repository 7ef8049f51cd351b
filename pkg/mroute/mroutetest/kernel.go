// Package mroutetest provides an in-memory model of the Linux ip6mr control plane and multicast data plane,
// for exercising a mroute.Session and the forwarding oracle without privileges.
package mroutetest

import (
	"encoding/binary"
	"fmt"
	"github.com/ghjm/mroute6/pkg/mroute"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
	"net/netip"
	"sync"
)

// Call records one option set through a Socket
type Call struct {
	Level int
	Opt   int
	Value []byte
	Err   error
}

type mfcKey struct {
	origin netip.Addr
	group  netip.Addr
}

// Kernel is the shared routing state of one simulated network namespace
type Kernel struct {
	lock    sync.Mutex
	devices map[int]*Device
	owner   *Socket
	mifs    map[uint16]mroute.InterfaceRecord
	mfcs    map[mfcKey]mroute.ForwardingEntry
	faults  map[int]unix.Errno
	calls   []Call
}

func NewKernel() *Kernel {
	return &Kernel{
		devices: make(map[int]*Device),
		mifs:    make(map[uint16]mroute.InterfaceRecord),
		mfcs:    make(map[mfcKey]mroute.ForwardingEntry),
		faults:  make(map[int]unix.Errno),
	}
}

// Socket is a simulated raw ICMPv6 socket.  It implements mroute.ControlChannel.
type Socket struct {
	k         *Kernel
	filter    *ipv6.ICMPFilter
	filterErr error
	closed    bool
}

// Open creates a new socket in the kernel
func (k *Kernel) Open() *Socket {
	return &Socket{k: k}
}

// FailNext makes the next use of a multicast routing option fail with the given errno
func (k *Kernel) FailNext(opt int, errno unix.Errno) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.faults[opt] = errno
}

// Calls returns every option set so far, in order
func (k *Kernel) Calls() []Call {
	k.lock.Lock()
	defer k.lock.Unlock()
	return append([]Call(nil), k.calls...)
}

// Active reports whether some socket has multicast routing enabled
func (k *Kernel) Active() bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.owner != nil
}

// MIFs returns the registered virtual interfaces
func (k *Kernel) MIFs() map[uint16]mroute.InterfaceRecord {
	k.lock.Lock()
	defer k.lock.Unlock()
	m := make(map[uint16]mroute.InterfaceRecord, len(k.mifs))
	for i, r := range k.mifs {
		m[i] = r
	}
	return m
}

// MFCs returns the installed forwarding entries
func (k *Kernel) MFCs() []mroute.ForwardingEntry {
	k.lock.Lock()
	defer k.lock.Unlock()
	var ents []mroute.ForwardingEntry
	for _, e := range k.mfcs {
		ents = append(ents, e)
	}
	return ents
}

func (k *Kernel) setsockopt(s *Socket, level int, opt int, value []byte) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	err := k.setsockoptLocked(s, level, opt, value)
	k.calls = append(k.calls, Call{
		Level: level,
		Opt:   opt,
		Value: append([]byte(nil), value...),
		Err:   err,
	})
	if err != nil {
		log.Debugf("simulated setsockopt %d/%d: %s", level, opt, err)
	}
	return err
}

func (k *Kernel) setsockoptLocked(s *Socket, level int, opt int, value []byte) error {
	if s.closed {
		return unix.EBADF
	}
	if level != unix.IPPROTO_IPV6 || opt < mroute.MRT6Init || opt > mroute.MRT6DelMFC {
		return unix.ENOPROTOOPT
	}
	if errno, ok := k.faults[opt]; ok {
		delete(k.faults, opt)
		return errno
	}
	if opt != mroute.MRT6Init && k.owner != s {
		return unix.EACCES
	}
	switch opt {
	case mroute.MRT6Init:
		if len(value) < 4 {
			return unix.EINVAL
		}
		if k.owner != nil {
			return unix.EADDRINUSE
		}
		k.owner = s
	case mroute.MRT6Done:
		k.clean()
	case mroute.MRT6AddMIF:
		if len(value) < mroute.Mif6ctl.Size() {
			return unix.EINVAL
		}
		ir, err := mroute.DecodeInterfaceRecord(value[:mroute.Mif6ctl.Size()])
		if err != nil {
			return unix.EFAULT
		}
		if ir.VirtualIndex >= mroute.MaxMIFs {
			return unix.ENFILE
		}
		if _, ok := k.mifs[ir.VirtualIndex]; ok {
			return unix.EADDRINUSE
		}
		if _, ok := k.devices[int(ir.PhysicalIndex)]; !ok {
			return unix.EADDRNOTAVAIL
		}
		k.mifs[ir.VirtualIndex] = ir
	case mroute.MRT6DelMIF:
		if len(value) < 2 {
			return unix.EINVAL
		}
		mifi := binary.NativeEndian.Uint16(value)
		if _, ok := k.mifs[mifi]; !ok {
			return unix.EADDRNOTAVAIL
		}
		delete(k.mifs, mifi)
	case mroute.MRT6AddMFC, mroute.MRT6DelMFC:
		if len(value) < mroute.Mf6cctl.Size() {
			return unix.EINVAL
		}
		fe, err := mroute.DecodeForwardingEntry(value[:mroute.Mf6cctl.Size()])
		if err != nil {
			return unix.EFAULT
		}
		key := mfcKey{origin: fe.Source, group: fe.Group}
		if opt == mroute.MRT6DelMFC {
			if _, ok := k.mfcs[key]; !ok {
				return unix.ENOENT
			}
			delete(k.mfcs, key)
			return nil
		}
		if fe.InputVirtualIndex >= mroute.MaxMIFs {
			return unix.ENFILE
		}
		if !fe.Group.IsMulticast() {
			return unix.EINVAL
		}
		k.mfcs[key] = fe
	}
	return nil
}

// clean drops all routing state, as happens when the routing socket is done or closed
func (k *Kernel) clean() {
	k.owner = nil
	k.mifs = make(map[uint16]mroute.InterfaceRecord)
	k.mfcs = make(map[mfcKey]mroute.ForwardingEntry)
}

func (s *Socket) SetsockoptInt(level int, opt int, value int) error {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(value))
	return s.k.setsockopt(s, level, opt, b)
}

func (s *Socket) SetsockoptBytes(level int, opt int, value []byte) error {
	return s.k.setsockopt(s, level, opt, value)
}

// FailFilter makes setting the ICMPv6 filter fail with err
func (s *Socket) FailFilter(err error) {
	s.k.lock.Lock()
	defer s.k.lock.Unlock()
	s.filterErr = err
}

func (s *Socket) SetICMPFilter(f *ipv6.ICMPFilter) error {
	s.k.lock.Lock()
	defer s.k.lock.Unlock()
	if s.closed {
		return unix.EBADF
	}
	if s.filterErr != nil {
		return s.filterErr
	}
	fc := *f
	s.filter = &fc
	return nil
}

// Filter returns the ICMPv6 filter last installed on the socket
func (s *Socket) Filter() *ipv6.ICMPFilter {
	s.k.lock.Lock()
	defer s.k.lock.Unlock()
	return s.filter
}

// Close closes the socket.  Closing the routing socket cleans up all routing state.
func (s *Socket) Close() error {
	s.k.lock.Lock()
	defer s.k.lock.Unlock()
	if s.closed {
		return unix.EBADF
	}
	s.closed = true
	if s.k.owner == s {
		s.k.clean()
	}
	return nil
}

func (s *Socket) String() string {
	return fmt.Sprintf("simulated socket %p", s)
}
