package tracker

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/nettrace/internal/errors"
)

// ChannelConfig declares one named channel.
type ChannelConfig struct {
	Name       string `yaml:"name"`
	Descriptor `yaml:",inline"`
	Limits     Limits `yaml:"limits"`
}

// Config is the ordered channel set of a ledger.
type Config struct {
	Channels []ChannelConfig `yaml:"channels"`
}

// Validate rejects empty or duplicate names, bad limits and descriptors
// that do not compile.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return errors.NewValidationError("channel name is empty").
				WithField(fmt.Sprintf("channels[%d].name", i))
		}
		if seen[name] {
			return errors.NewValidationError("duplicate channel name").
				WithField(fmt.Sprintf("channels[%d].name", i)).WithValue(name)
		}
		seen[name] = true

		if err := ch.Limits.Validate(); err != nil {
			return errors.NewTrackerError("invalid limits", err).WithChannel(name)
		}
		if _, err := ch.Descriptor.Compile(); err != nil {
			return errors.NewTrackerError("invalid descriptor", err).WithChannel(name)
		}
	}
	return nil
}

// Names returns channel names in declaration order.
func (c Config) Names() []string {
	names := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		names[i] = ch.Name
	}
	return names
}

// SetLimits overrides the limits of the named channel.
func (c *Config) SetLimits(name string, limits Limits) error {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			c.Channels[i].Limits = limits
			return nil
		}
	}
	return errors.NewValidationError("unknown channel").WithValue(name).WithCause(errors.ErrUnknownChannel)
}

// ParseConfig decodes and validates a YAML channel set.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode tracker config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML channel set from path on fs.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, errors.NewNotFoundError("tracker config", path).WithCause(err)
	}
	return ParseConfig(bytes.NewReader(data))
}

// Marshal encodes the channel set as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
