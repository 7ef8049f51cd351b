package mroutetest

import (
	"context"
	"errors"
	"github.com/ghjm/mroute6/pkg/links"
	"github.com/ghjm/mroute6/pkg/mroute"
	"github.com/ghjm/mroute6/pkg/oracle"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
	"net/netip"
	"testing"
	"time"
)

func mustMif(t *testing.T, vif uint16, ifindex int) []byte {
	r, err := mroute.BuildInterfaceRecord(vif, ifindex)
	if err != nil {
		t.Fatal(err)
	}
	return r.Encode()
}

func TestKernelErrnos(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := NewKernel()
	if _, err := k.AddDevice(ctx, 10, "mr0"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.AddDevice(ctx, 10, "dup"); err == nil {
		t.Fatal("duplicate device index accepted")
	}
	s1, s2 := k.Open(), k.Open()
	check := func(name string, err error, want unix.Errno) {
		t.Helper()
		if !errors.Is(err, want) {
			t.Errorf("%s: expected %s, got %v", name, want, err)
		}
	}
	check("add mif before init", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, mustMif(t, 0, 10)),
		unix.EACCES)
	check("wrong level", s1.SetsockoptInt(unix.IPPROTO_IP, mroute.MRT6Init, 1), unix.ENOPROTOOPT)
	if err := s1.SetsockoptInt(unix.IPPROTO_IPV6, mroute.MRT6Init, 1); err != nil {
		t.Fatalf("init failed: %s", err)
	}
	check("second init", s2.SetsockoptInt(unix.IPPROTO_IPV6, mroute.MRT6Init, 1), unix.EADDRINUSE)
	check("done from other socket", s2.SetsockoptInt(unix.IPPROTO_IPV6, mroute.MRT6Done, 1), unix.EACCES)
	check("short mif", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, make([]byte, 4)), unix.EINVAL)
	check("mif too big", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, mustMif(t, 40, 10)),
		unix.ENFILE)
	check("no device", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, mustMif(t, 0, 11)),
		unix.EADDRNOTAVAIL)
	if err := s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, mustMif(t, 0, 10)); err != nil {
		t.Fatalf("add mif failed: %s", err)
	}
	check("dup mif", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6AddMIF, mustMif(t, 0, 10)),
		unix.EADDRINUSE)
	check("del unknown mif", s1.SetsockoptBytes(unix.IPPROTO_IPV6, mroute.MRT6DelMIF, mustMif(t, 1, 10)),
		unix.EADDRNOTAVAIL)
	if len(k.MIFs()) != 1 {
		t.Fatalf("expected 1 mif, got %d", len(k.MIFs()))
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}
	if k.Active() || len(k.MIFs()) != 0 {
		t.Fatal("closing the routing socket did not clean up")
	}
	check("closed socket", s1.SetsockoptInt(unix.IPPROTO_IPV6, mroute.MRT6Init, 1), unix.EBADF)
	if err := s2.SetsockoptInt(unix.IPPROTO_IPV6, mroute.MRT6Init, 1); err != nil {
		t.Fatalf("init after owner closed failed: %s", err)
	}
	_ = s2.Close()
}

func TestDataPlane(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var eps []links.Endpoint
	for i, name := range []string{"mr0", "mr1", "mr2"} {
		eps = append(eps, links.Endpoint{
			NetID: i,
			Name:  name,
			Addr:  netip.AddrFrom16([16]byte{0: 0xfd, 7: byte(i), 15: 1}),
		})
	}
	env, err := NewEnvironment(ctx, eps)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = env.Close()
	}()
	o := oracle.New()
	defer o.Close()
	for _, ep := range env.Endpoints() {
		o.Attach(ep.Name, ep.Link)
	}
	ch, _ := env.OpenChannel()
	s := mroute.NewSession(ch)
	defer func() {
		if err := s.Close(); err != nil {
			t.Errorf("error closing session: %s", err)
		}
	}()
	if err = s.Initialize(); err != nil {
		t.Fatal(err)
	}
	for i, ep := range env.Endpoints() {
		r, _ := mroute.BuildInterfaceRecord(uint16(i), ep.Index)
		if err = s.RegisterInterface(r); err != nil {
			t.Fatal(err)
		}
	}
	stim := oracle.NewStimulus(eps[0].Addr)
	e, _ := mroute.BuildForwardingEntry(stim.Source, stim.Group, 0, []uint16{2})
	if err = s.InstallForwardingEntry(e); err != nil {
		t.Fatal(err)
	}

	if err = env.SendPing(ctx, 0, stim, oracle.DefaultHopLimit); err != nil {
		t.Fatal(err)
	}
	fwd, _ := oracle.ExpectedForwarded(stim, oracle.DefaultHopLimit)
	o.ExpectPacketOn(t, "mr0", oracle.ExpectedOriginal(stim, oracle.DefaultHopLimit), time.Second)
	o.ExpectPacketOn(t, "mr2", fwd, time.Second)
	o.ExpectNoPacketOn(t, "mr1", 20*time.Millisecond)

	// a packet arriving on a non-input interface is not forwarded
	if err = eps1Link(env).SendPacket(stim.Packet(oracle.DefaultHopLimit)); err != nil {
		t.Fatal(err)
	}
	o.ExpectNoPacketOn(t, "mr2", 20*time.Millisecond)

	// hop limit 1 does not pass the threshold
	if err = env.SendPing(ctx, 0, stim, 1); err != nil {
		t.Fatal(err)
	}
	o.ExpectPacketOn(t, "mr0", oracle.ExpectedOriginal(stim, 1), time.Second)
	o.ExpectNoPacketOn(t, "mr2", 20*time.Millisecond)
}

func eps1Link(env *Environment) links.Link {
	return env.Endpoints()[1].Link
}
