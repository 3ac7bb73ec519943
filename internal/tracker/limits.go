package tracker

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/nettrace/internal/errors"
)

// Limits is an inclusive range of allowed distinct connections.
type Limits struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// NewLimits returns Limits{Min: min, Max: max}.
func NewLimits(min, max int) Limits {
	return Limits{Min: min, Max: max}
}

// Contains reports whether n is within [Min, Max].
func (l Limits) Contains(n int) bool {
	return n >= l.Min && n <= l.Max
}

// Validate rejects negative bounds and Min > Max.
func (l Limits) Validate() error {
	if l.Min < 0 || l.Max < 0 {
		return errors.NewValidationError("limits must be non-negative").WithValue(l.String())
	}
	if l.Min > l.Max {
		return errors.NewValidationError("min exceeds max").WithValue(l.String())
	}
	return nil
}

// String renders the limits as "min:max".
func (l Limits) String() string {
	return fmt.Sprintf("%d:%d", l.Min, l.Max)
}

// ParseLimits accepts "min:max" or a single count meaning exactly that many.
func ParseLimits(s string) (Limits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Limits{}, errors.NewValidationError("empty limits")
	}

	lo, hi, ranged := strings.Cut(s, ":")
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo == "" || (ranged && hi == "") {
		return Limits{}, errors.NewValidationError("limits must be \"min:max\" or a count").WithValue(s)
	}
	min, err := cast.ToIntE(lo)
	if err != nil {
		return Limits{}, errors.NewValidationError("invalid minimum").WithValue(s).WithCause(err)
	}
	max := min
	if ranged {
		if max, err = cast.ToIntE(hi); err != nil {
			return Limits{}, errors.NewValidationError("invalid maximum").WithValue(s).WithCause(err)
		}
	}

	l := NewLimits(min, max)
	if err := l.Validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// UnmarshalYAML accepts "min:max", a bare count, or a {min, max} mapping.
func (l *Limits) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseLimits(node.Value)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}

	type plain Limits
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Limits(p)
	return nil
}
