package cmd

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

// limitsFlag collects repeated --limit name=min:max values.
type limitsFlag struct {
	names  []string
	limits tracker.ChannelLimits
}

var _ pflag.SliceValue = (*limitsFlag)(nil)

func newLimitsFlag() *limitsFlag {
	return &limitsFlag{limits: make(tracker.ChannelLimits)}
}

func (f *limitsFlag) String() string {
	return "[" + strings.Join(f.GetSlice(), ",") + "]"
}

func (f *limitsFlag) Set(value string) error {
	for _, item := range strings.Split(value, ",") {
		if err := f.add(strings.TrimSpace(item)); err != nil {
			return err
		}
	}
	return nil
}

func (f *limitsFlag) add(item string) error {
	name, spec, ok := strings.Cut(item, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=min:max, got %q", item)
	}
	l, err := tracker.ParseLimits(spec)
	if err != nil {
		return err
	}
	if _, seen := f.limits[name]; !seen {
		f.names = append(f.names, name)
	}
	f.limits[name] = l
	return nil
}

func (f *limitsFlag) Type() string { return "name=min:max" }

func (f *limitsFlag) Append(value string) error { return f.add(value) }

func (f *limitsFlag) Replace(values []string) error {
	f.names = nil
	f.limits = make(tracker.ChannelLimits)
	for _, v := range values {
		if err := f.add(v); err != nil {
			return err
		}
	}
	return nil
}

func (f *limitsFlag) GetSlice() []string {
	out := make([]string, len(f.names))
	for i, name := range f.names {
		out[i] = name + "=" + f.limits[name].String()
	}
	return out
}

// trackerSource selects the channel declarations for a command.
type trackerSource struct {
	channelsFile string
	limits       *limitsFlag
}

func (s *trackerSource) register(flags *pflag.FlagSet) {
	s.limits = newLimitsFlag()
	flags.StringVar(&s.channelsFile, "channels", "", "YAML file of channel declarations (default: lab presets)")
	flags.Var(s.limits, "limit", "channel limits as name=min:max or name=n, repeatable")
}

// resolve loads the channel file named by the flag or by fallbackFile, or
// generates the presets for tag, and applies --limit overrides.
func (s *trackerSource) resolve(fs afero.Fs, tag connection.Tag, fallbackFile string) (tracker.Config, error) {
	file := s.channelsFile
	if file == "" {
		file = fallbackFile
	}

	if file == "" {
		return tracker.GenerateConfig(tag, s.limits.limits)
	}

	cfg, err := tracker.LoadConfig(fs, file)
	if err != nil {
		return tracker.Config{}, err
	}
	for _, name := range s.limits.names {
		if err := cfg.SetLimits(name, s.limits.limits[name]); err != nil {
			return tracker.Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

func parsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("invalid local network %q: %w", v, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid local network %q: %w", v, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}
