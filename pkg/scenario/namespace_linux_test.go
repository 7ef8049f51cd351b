//go:build linux

package scenario

import (
	"context"
	"errors"
	"fmt"
	"github.com/ghjm/mroute6/pkg/config"
	"github.com/ghjm/mroute6/pkg/x/checkroot"
	"golang.org/x/sys/unix"
	"net"
	"os"
	"strings"
	"testing"
)

func TestAsRootScenarios(t *testing.T) {
	if !checkroot.CheckRoot() && !checkroot.CheckNetAdmin() {
		fmt.Printf("Skipping multicast routing tests due to lack of permissions\n")
		return
	}
	cfg := config.Default()
	eps, err := Endpoints(cfg)
	if err != nil {
		t.Fatalf("error building endpoints: %s", err)
	}
	for _, name := range []string{"single", "mesh"} {
		t.Run(name, func(t *testing.T) {
			env, err := NewNamespaceEnvironment(context.Background(), eps)
			if err != nil {
				t.Fatalf("error creating namespace: %s", err)
			}
			defer func() {
				_ = env.Close()
			}()
			passed, err := RunScenario(context.Background(), t, env, cfg, name)
			if errors.Is(err, unix.ENOPROTOOPT) {
				t.Skip("kernel does not support IPv6 multicast routing")
			}
			if err != nil {
				t.Fatalf("error running scenario: %s", err)
			}
			if !passed {
				t.Fatalf("scenario %s failed", name)
			}
		})
	}
}

func TestAsRootNamespaceOptions(t *testing.T) {
	if !checkroot.CheckRoot() && !checkroot.CheckNetAdmin() {
		fmt.Printf("Skipping namespace option tests due to lack of permissions\n")
		return
	}
	eps, err := Endpoints(config.Default())
	if err != nil {
		t.Fatalf("error building endpoints: %s", err)
	}
	env, err := NewNamespaceEnvironment(context.Background(), eps[:2], WithMTU(1400), WithCaptureBuffer(16),
		WithSysctls(map[string]string{"net/ipv6/conf/default/hop_limit": "17"}))
	if err != nil {
		t.Fatalf("error creating namespace: %s", err)
	}
	defer func() {
		if err := env.Close(); err != nil {
			t.Errorf("error closing namespace: %s", err)
		}
	}()
	for _, ep := range env.Endpoints() {
		ifi, err := net.InterfaceByIndex(ep.Index)
		if err != nil {
			t.Fatalf("error looking up %s: %s", ep, err)
		}
		if ifi.MTU != 1400 {
			t.Errorf("%s has MTU %d", ep.Name, ifi.MTU)
		}
	}
	for name, want := range map[string]string{"default/hop_limit": "17", "all/accept_dad": "0"} {
		v, err := os.ReadFile("/proc/sys/net/ipv6/conf/" + name)
		if err != nil {
			t.Fatalf("error reading sysctl %s: %s", name, err)
		}
		if strings.TrimSpace(string(v)) != want {
			t.Errorf("sysctl %s is %s, expected %s", name, v, want)
		}
	}
}
