package kconfig

import (
	"bytes"
	"errors"
	"github.com/klauspost/compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `#
# Automatically generated file; DO NOT EDIT.
#
CONFIG_IPV6=y
CONFIG_IPV6_MROUTE=y
# CONFIG_IPV6_PIMSM_V2 is not set
CONFIG_TUN=m
CONFIG_NET_NS=y
CONFIG_LOCALVERSION="-test"
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("error parsing config: %s", err)
	}
	if !c.Enabled("CONFIG_IPV6_MROUTE") || !c.Enabled("CONFIG_TUN") {
		t.Errorf("enabled options not found")
	}
	if c.Enabled("CONFIG_IPV6_PIMSM_V2") || c["CONFIG_IPV6_PIMSM_V2"] != "n" {
		t.Errorf("unset option parsed incorrectly")
	}
	if c["CONFIG_LOCALVERSION"] != "-test" {
		t.Errorf("string option parsed incorrectly: %q", c["CONFIG_LOCALVERSION"])
	}
	if err = c.Check(); err != nil {
		t.Errorf("complete config failed check: %s", err)
	}
	delete(c, "CONFIG_IPV6_MROUTE")
	err = c.Check()
	if !errors.Is(err, ErrMissingOptions) || !strings.Contains(err.Error(), "CONFIG_IPV6_MROUTE") {
		t.Errorf("expected missing CONFIG_IPV6_MROUTE, got %v", err)
	}
}

func TestLoadCompressed(t *testing.T) {
	buf := &bytes.Buffer{}
	zw := gzip.NewWriter(buf)
	if _, err := zw.Write([]byte(testConfig)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	for name, data := range map[string][]byte{"config.gz": buf.Bytes(), "config": []byte(testConfig)} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		c, err := Load(path)
		if err != nil {
			t.Fatalf("error loading %s: %s", name, err)
		}
		if len(c.Missing(Required...)) != 0 {
			t.Errorf("%s: unexpected missing options %v", name, c.Missing(Required...))
		}
	}
	if _, err := Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("loading a missing file succeeded")
	}
}
