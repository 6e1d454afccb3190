package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigSampler(t *testing.T) {
	require.Equal(t, "AlwaysOnSampler", Config{SampleRatio: 1}.sampler().Description())
	require.Equal(t, "AlwaysOffSampler", Config{SampleRatio: 0}.sampler().Description())
	require.Contains(t, Config{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestGetMetricsIsSingleton(t *testing.T) {
	m := GetMetrics()
	require.NotNil(t, m.JobsSubmittedTotal)
	require.NotNil(t, m.RowsProcessedTotal)
	require.Same(t, m, GetMetrics())
}
