package tracker

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	cfg := Config{Channels: []ChannelConfig{{
		Name:       "derp_1",
		Descriptor: Descriptor{Protocol: ProtocolTCP, Addresses: []string{"10.0.10.1"}, Port: 8765},
		Limits:     Limits{1, 1},
	}}}
	l, err := NewLedger(cfg)
	require.NoError(t, err)

	c := NewCollector(l, prometheus.Labels{"tag": "DOCKER_CONE_CLIENT_1"})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	assert.Equal(t, 4, testutil.CollectAndCount(c))

	expected := `
# HELP nettrace_channel_connections Distinct connections counted for the channel.
# TYPE nettrace_channel_connections gauge
nettrace_channel_connections{channel="derp_1",tag="DOCKER_CONE_CLIENT_1"} 0
# HELP nettrace_channel_within_limits 1 when the channel count is within its limits.
# TYPE nettrace_channel_within_limits gauge
nettrace_channel_within_limits{channel="derp_1",tag="DOCKER_CONE_CLIENT_1"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"nettrace_channel_connections", "nettrace_channel_within_limits"))

	l.HandleLine("12:00:01.000001 IP 192.168.101.2.41000 > 10.0.10.1.8765: Flags [S], seq 1, length 0")

	expected = `
# HELP nettrace_channel_connections Distinct connections counted for the channel.
# TYPE nettrace_channel_connections gauge
nettrace_channel_connections{channel="derp_1",tag="DOCKER_CONE_CLIENT_1"} 1
# HELP nettrace_channel_limit_max Declared maximum number of connections.
# TYPE nettrace_channel_limit_max gauge
nettrace_channel_limit_max{channel="derp_1",tag="DOCKER_CONE_CLIENT_1"} 1
# HELP nettrace_channel_within_limits 1 when the channel count is within its limits.
# TYPE nettrace_channel_within_limits gauge
nettrace_channel_within_limits{channel="derp_1",tag="DOCKER_CONE_CLIENT_1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"nettrace_channel_connections", "nettrace_channel_limit_max", "nettrace_channel_within_limits"))
}
