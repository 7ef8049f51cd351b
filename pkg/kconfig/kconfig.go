// Package kconfig reads the kernel build configuration to diagnose missing multicast routing support.
package kconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"github.com/klauspost/compress/gzip"
	"io"
	"os"
	"strings"
)

// DefaultPath is where the running kernel exposes its configuration, if built with CONFIG_IKCONFIG_PROC
const DefaultPath = "/proc/config.gz"

// Required lists the options needed to run forwarding scenarios in a network namespace
var Required = []string{
	"CONFIG_IPV6",
	"CONFIG_IPV6_MROUTE",
	"CONFIG_TUN",
	"CONFIG_NET_NS",
}

var ErrMissingOptions = fmt.Errorf("kernel is missing required options")

// Config is a parsed kernel configuration, mapping option names to their values
type Config map[string]string

// Load reads a kernel configuration file, which may be gzip compressed
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

func Parse(r io.Reader) (Config, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("error opening compressed config: %w", err)
		}
		defer func() {
			_ = zr.Close()
		}()
		return parse(zr)
	}
	return parse(br)
}

func parse(r io.Reader) (Config, error) {
	c := make(Config)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if name, ok := strings.CutPrefix(line, "# "); ok {
			if name, ok = strings.CutSuffix(name, " is not set"); ok {
				c[name] = "n"
			}
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(name, "CONFIG_") {
			continue
		}
		c[name] = strings.Trim(value, `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Enabled returns true if an option is built in or built as a module
func (c Config) Enabled(name string) bool {
	v := c[name]
	return v == "y" || v == "m"
}

// Missing returns the options from names that are not enabled
func (c Config) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !c.Enabled(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Check returns ErrMissingOptions naming each Required option the configuration lacks
func (c Config) Check() error {
	missing := c.Missing(Required...)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingOptions, strings.Join(missing, ", "))
	}
	return nil
}
