package tracker

import (
	"slices"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
)

// Preset channel names.
const (
	ChannelDerp0 = "derp_0"
	ChannelDerp1 = "derp_1"
	ChannelDerp2 = "derp_2"
	ChannelDerp3 = "derp_3"
	ChannelStun  = "stun"
	ChannelVPN1  = "vpn_1"
	ChannelVPN2  = "vpn_2"
	ChannelPing  = "ping"
)

// Addresses of the lab's shared services.
const (
	DerpNetwork  = "10.0.10.0/24"
	Derp1Address = "10.0.10.1"
	Derp2Address = "10.0.10.2"
	Derp3Address = "10.0.10.3"
	DerpPort     = 8765
	StunAddress  = "10.0.1.1"
	StunPort     = 3478
	VPN1Address  = "10.0.100.1"
	VPN2Address  = "10.0.100.2"
	VPNPort      = 51820
)

// ChannelLimits maps preset channel names to their limits. Channels absent
// from the map expect no connections at all.
type ChannelLimits map[string]Limits

func presetChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: ChannelDerp0, Descriptor: Descriptor{Protocol: ProtocolTCP, Addresses: []string{DerpNetwork}, Port: DerpPort}},
		{Name: ChannelDerp1, Descriptor: Descriptor{Protocol: ProtocolTCP, Addresses: []string{Derp1Address}, Port: DerpPort}},
		{Name: ChannelDerp2, Descriptor: Descriptor{Protocol: ProtocolTCP, Addresses: []string{Derp2Address}, Port: DerpPort}},
		{Name: ChannelDerp3, Descriptor: Descriptor{Protocol: ProtocolTCP, Addresses: []string{Derp3Address}, Port: DerpPort}},
		{Name: ChannelStun, Descriptor: Descriptor{Protocol: ProtocolUDP, Addresses: []string{StunAddress}, Port: StunPort}},
		{Name: ChannelVPN1, Descriptor: Descriptor{Protocol: ProtocolUDP, Addresses: []string{VPN1Address}, Port: VPNPort}},
		{Name: ChannelVPN2, Descriptor: Descriptor{Protocol: ProtocolUDP, Addresses: []string{VPN2Address}, Port: VPNPort}},
		{Name: ChannelPing, Descriptor: Descriptor{Protocol: ProtocolICMP, Addresses: []string{"10.0.0.0/8"}}},
	}
}

// PresetNames returns the preset channel names in declaration order.
func PresetNames() []string {
	return Config{Channels: presetChannels()}.Names()
}

// GenerateConfig returns the preset channel set for a peer with the given
// tag. Every peer in the lab reaches the same relays, STUN and VPN servers.
func GenerateConfig(tag connection.Tag, limits ChannelLimits) (Config, error) {
	if _, err := connection.ParseTag(string(tag)); err != nil {
		return Config{}, err
	}

	cfg := Config{Channels: presetChannels()}
	names := cfg.Names()
	for name, l := range limits {
		if !slices.Contains(names, name) {
			return Config{}, errors.NewValidationError("not a preset channel").WithValue(name).
				WithCause(errors.ErrUnknownChannel)
		}
		if err := cfg.SetLimits(name, l); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
