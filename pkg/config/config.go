package config

import (
	"encoding/binary"
	"fmt"
	"gopkg.in/yaml.v3"
	"lukechampine.com/uint128"
	"net/netip"
	"os"
	"time"
)

type Config struct {
	Global    Global     `yaml:"global"`
	Networks  []Network  `yaml:"networks"`
	Scenarios []Scenario `yaml:"scenarios"`
}

type Global struct {
	Group    string        `yaml:"group"`
	HopLimit uint8         `yaml:"hop_limit"`
	Timeout  time.Duration `yaml:"timeout"`
	Quiet    time.Duration `yaml:"quiet"`
	Prefix   string        `yaml:"prefix"`
}

// Network is one interface under test.  Networks are assigned virtual interface indices in order of NetID.
type Network struct {
	NetID int    `yaml:"netid"`
	Name  string `yaml:"name"`
}

// Scenario is a named set of forwarding routes that are installed and then checked with a ping each
type Scenario struct {
	Name   string  `yaml:"name"`
	Routes []Route `yaml:"routes"`
}

// Route forwards the group from the input network's address to each output network
type Route struct {
	Input   int   `yaml:"input"`
	Outputs []int `yaml:"outputs"`
}

var ErrInvalidConfig = fmt.Errorf("invalid configuration")

// Default returns the built-in configuration: four networks, a single-route scenario and a three-way mesh
func Default() *Config {
	return &Config{
		Global: Global{
			Group:    "ff05::12",
			HopLimit: 64,
			Timeout:  time.Second,
			Quiet:    200 * time.Millisecond,
			Prefix:   "fd00:6d72::/48",
		},
		Networks: []Network{
			{NetID: 100, Name: "nettest100"},
			{NetID: 150, Name: "nettest150"},
			{NetID: 200, Name: "nettest200"},
			{NetID: 250, Name: "nettest250"},
		},
		Scenarios: []Scenario{
			{
				Name: "single",
				Routes: []Route{
					{Input: 100, Outputs: []int{150}},
				},
			},
			{
				Name: "mesh",
				Routes: []Route{
					{Input: 100, Outputs: []int{150, 200}},
					{Input: 150, Outputs: []int{100, 200}},
					{Input: 200, Outputs: []int{100, 150}},
				},
			},
		},
	}
}

// LoadConfig reads a YAML configuration.  Unset global values take their defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	def := Default()
	if config.Global.Group == "" {
		config.Global.Group = def.Global.Group
	}
	if config.Global.HopLimit == 0 {
		config.Global.HopLimit = def.Global.HopLimit
	}
	if config.Global.Timeout == 0 {
		config.Global.Timeout = def.Global.Timeout
	}
	if config.Global.Quiet == 0 {
		config.Global.Quiet = def.Global.Quiet
	}
	if config.Global.Prefix == "" {
		config.Global.Prefix = def.Global.Prefix
	}
	if len(config.Networks) == 0 {
		config.Networks = def.Networks
	}
	if len(config.Scenarios) == 0 {
		config.Scenarios = def.Scenarios
	}
	err = config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

func (g *Global) GroupAddr() (netip.Addr, error) {
	a, err := netip.ParseAddr(g.Group)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing group: %w", err)
	}
	if !a.Is6() || !a.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("%w: group %s is not an IPv6 multicast address", ErrInvalidConfig, a)
	}
	return a, nil
}

func (g *Global) PrefixNet() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(g.Prefix)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("error parsing prefix: %w", err)
	}
	if !p.Addr().Is6() || p.Addr().Is4In6() || p.Bits() > 64 {
		return netip.Prefix{}, fmt.Errorf("%w: prefix %s must be IPv6 and at most /64", ErrInvalidConfig, p)
	}
	return p.Masked(), nil
}

// Address returns the /64 interface address of a network: the prefix with the network ID in the subnet bits
// and a host part of 1.
func (c *Config) Address(netid int) (netip.Prefix, error) {
	p, err := c.Global.PrefixNet()
	if err != nil {
		return netip.Prefix{}, err
	}
	if netid < 0 || (p.Bits() > 0 && uint64(netid) >= uint64(1)<<(64-p.Bits())) {
		return netip.Prefix{}, fmt.Errorf("%w: network ID %d does not fit in %s", ErrInvalidConfig, netid, p)
	}
	b := p.Addr().As16()
	base := uint128.New(
		binary.BigEndian.Uint64(b[8:]),
		binary.BigEndian.Uint64(b[:8]),
	)
	v := base.Add(uint128.From64(uint64(netid)).Lsh(64)).Add64(1)
	binary.BigEndian.PutUint64(b[8:], v.Lo)
	binary.BigEndian.PutUint64(b[:8], v.Hi)
	return netip.PrefixFrom(netip.AddrFrom16(b), 64), nil
}

// Scenario finds a scenario by name
func (c *Config) Scenario(name string) (Scenario, bool) {
	for _, s := range c.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func (c *Config) Validate() error {
	if _, err := c.Global.GroupAddr(); err != nil {
		return err
	}
	if c.Global.HopLimit < 2 {
		return fmt.Errorf("%w: hop limit %d cannot be forwarded", ErrInvalidConfig, c.Global.HopLimit)
	}
	if len(c.Networks) > 32 {
		return fmt.Errorf("%w: %d networks, at most 32 supported", ErrInvalidConfig, len(c.Networks))
	}
	netids := make(map[int]struct{})
	names := make(map[string]struct{})
	for _, n := range c.Networks {
		if _, ok := netids[n.NetID]; ok {
			return fmt.Errorf("%w: duplicate network ID %d", ErrInvalidConfig, n.NetID)
		}
		netids[n.NetID] = struct{}{}
		if n.Name == "" || len(n.Name) > 15 {
			return fmt.Errorf("%w: network %d has invalid interface name %q", ErrInvalidConfig, n.NetID, n.Name)
		}
		if _, ok := names[n.Name]; ok {
			return fmt.Errorf("%w: duplicate interface name %s", ErrInvalidConfig, n.Name)
		}
		names[n.Name] = struct{}{}
		if _, err := c.Address(n.NetID); err != nil {
			return err
		}
	}
	for _, s := range c.Scenarios {
		for _, r := range s.Routes {
			for _, id := range append([]int{r.Input}, r.Outputs...) {
				if _, ok := netids[id]; !ok {
					return fmt.Errorf("%w: scenario %s refers to unknown network %d", ErrInvalidConfig, s.Name, id)
				}
			}
		}
	}
	return nil
}
