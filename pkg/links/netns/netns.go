// Package netns isolates a test run in a private network namespace bound to the calling goroutine's OS thread.
package netns

import (
	"fmt"
)

var ErrNotImplemented = fmt.Errorf("not implemented on this platform")

// Sysctls applied to a fresh namespace so that test interfaces are quiet and usable immediately: no flow
// labels on generated packets, no duplicate address detection, no router solicitations.
var Sysctls = map[string]string{
	"net/ipv6/auto_flowlabels":                   "0",
	"net/ipv6/conf/all/accept_dad":               "0",
	"net/ipv6/conf/default/accept_dad":           "0",
	"net/ipv6/conf/default/router_solicitations": "0",
}

type enterParams struct {
	sysctls map[string]string
}

// WithSysctls sets additional sysctls in the new namespace, replacing the value from Sysctls where a name
// appears in both
func WithSysctls(sysctls map[string]string) func(*enterParams) {
	return func(p *enterParams) {
		for k, v := range sysctls {
			p.sysctls[k] = v
		}
	}
}
