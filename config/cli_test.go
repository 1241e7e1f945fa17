package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCliIsSelfConsistent(t *testing.T) {
	cli := DefaultCli()
	require.NotEmpty(t, cli.RTMPAddr)
	require.NotEmpty(t, cli.EdgeHTTPAddr)
	require.NotEqual(t, cli.RTMPAddr, cli.EdgeHTTPAddr)
	require.Greater(t, cli.MaxIngestStreams, 0)
	require.Greater(t, cli.MaxEdgeInFlight, 0)
	require.Equal(t, DefaultHoldBackParts, cli.HoldBackParts)
	require.Equal(t, DefaultRetainSegments, cli.RetainSegments)
	require.InDelta(t, DefaultBreakpointDuration.Seconds(), cli.BreakpointSecs, 0.001)
	require.InDelta(t, DefaultPartDuration.Seconds(), cli.PartSecs, 0.001)
}
