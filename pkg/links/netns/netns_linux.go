//go:build linux

package netns

import (
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Scope is a private network namespace entered by the current OS thread.  Everything that creates sockets or
// devices inside the namespace must run on the goroutine that called Enter, until Close.
type Scope struct {
	orig   netns.NsHandle
	ns     netns.NsHandle
	closed bool
}

// Enter locks the calling goroutine to its OS thread and moves the thread into a new network namespace with
// the loopback interface up and Sysctls applied.
func Enter(mods ...func(*enterParams)) (*Scope, error) {
	p := &enterParams{
		sysctls: maps.Clone(Sysctls),
	}
	for _, mod := range mods {
		mod(p)
	}
	runtime.LockOSThread()
	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("error getting current namespace: %w", err)
	}
	ns, err := netns.New()
	if err != nil {
		_ = orig.Close()
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("error creating namespace: %w", err)
	}
	s := &Scope{
		orig: orig,
		ns:   ns,
	}
	log.Debugf("entered network namespace %s", ns)
	err = setup(p)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func setup(p *enterParams) error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("error opening lo: %w", err)
	}
	err = netlink.LinkSetUp(lo)
	if err != nil {
		return fmt.Errorf("error bringing up lo: %w", err)
	}
	keys := maps.Keys(p.sysctls)
	slices.Sort(keys)
	for _, k := range keys {
		if err = SetSysctl(k, p.sysctls[k]); err != nil {
			return err
		}
	}
	return nil
}

// SetSysctl writes a /proc/sys value, given with slashes or dots, in the namespace of the current thread
func SetSysctl(name string, value string) error {
	path := filepath.Join("/proc/sys", strings.ReplaceAll(name, ".", "/"))
	err := os.WriteFile(path, []byte(value), 0o644)
	if err != nil {
		return fmt.Errorf("error setting sysctl %s: %w", name, err)
	}
	log.Debugf("sysctl %s = %s", name, value)
	return nil
}

// Close returns the thread to its original namespace and unlocks it.  It is safe to call more than once.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := netns.Set(s.orig)
	_ = s.ns.Close()
	_ = s.orig.Close()
	if err != nil {
		// The thread is left locked, so the runtime discards it rather than reusing it in the wrong namespace.
		return fmt.Errorf("error restoring original namespace: %w", err)
	}
	runtime.UnlockOSThread()
	return nil
}
