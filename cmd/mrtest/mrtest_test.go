package main

import (
	"github.com/ghjm/mroute6/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestVersionOnRoot(t *testing.T) {
	require.Equal(t, version.Version(), rootCmd.Version)
	for _, c := range []*cobra.Command{runCmd, checkKernelCmd, showConfigCmd, versionCmd} {
		require.Empty(t, c.Version, c.Name())
	}
}
