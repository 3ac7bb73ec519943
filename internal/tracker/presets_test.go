package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
)

func TestGenerateConfig(t *testing.T) {
	cfg, err := GenerateConfig(connection.TagConeClient1, ChannelLimits{
		ChannelDerp1: {Min: 1, Max: 1},
		ChannelStun:  {Min: 0, Max: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"derp_0", "derp_1", "derp_2", "derp_3", "stun", "vpn_1", "vpn_2", "ping"}, cfg.Names())
	for _, ch := range cfg.Channels {
		switch ch.Name {
		case ChannelDerp1:
			assert.Equal(t, Limits{1, 1}, ch.Limits)
		case ChannelStun:
			assert.Equal(t, Limits{0, 2}, ch.Limits)
		default:
			assert.Equal(t, Limits{0, 0}, ch.Limits, ch.Name)
		}
	}
}

func TestGenerateConfig_Errors(t *testing.T) {
	_, err := GenerateConfig("NOT_A_TAG", nil)
	assert.Error(t, err)

	_, err = GenerateConfig(connection.TagMacVM, ChannelLimits{"derp_9": {Min: 1, Max: 1}})
	assert.True(t, errors.Is(err, errors.ErrUnknownChannel))

	_, err = GenerateConfig(connection.TagMacVM, ChannelLimits{ChannelPing: {Min: 2, Max: 1}})
	assert.Error(t, err)
}

func TestGenerateConfig_Classification(t *testing.T) {
	cfg, err := GenerateConfig(connection.TagLocal, nil)
	require.NoError(t, err)
	l, err := NewLedger(cfg)
	require.NoError(t, err)

	l.HandleLine("12:00:01.000001 IP 192.168.101.2.41000 > 10.0.10.2.8765: Flags [S], seq 1, length 0")
	l.HandleLine("12:00:01.000001 IP 192.168.101.2.41641 > 10.0.1.1.3478: UDP, length 20")
	l.HandleLine("12:00:01.000001 IP 192.168.101.2.51820 > 10.0.100.2.51820: UDP, length 148")
	l.HandleLine("12:00:01.000001 IP 192.168.101.2 > 10.0.100.2: ICMP echo request, id 1, seq 1, length 64")

	want := map[string]int{
		ChannelDerp0: 1, ChannelDerp1: 0, ChannelDerp2: 1, ChannelDerp3: 0,
		ChannelStun: 1, ChannelVPN1: 0, ChannelVPN2: 1, ChannelPing: 1,
	}
	for name, n := range want {
		got, ok := l.Count(name)
		require.True(t, ok, name)
		assert.Equal(t, n, got, name)
	}
}
