package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written in YAML as a Go-style
// string ("30s", "5m") rather than a raw integer of nanoseconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts a Go duration string, or a bare number interpreted
// as seconds for users coming from configs that don't use duration suffixes.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: unsupported yaml node kind %v", value.Kind)
	}

	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		d.Duration = parsed
		return nil
	}

	if parsed, err := time.ParseDuration(raw + "s"); err == nil {
		d.Duration = parsed
		return nil
	}

	return fmt.Errorf("duration: invalid value %q", raw)
}

// MarshalYAML renders the duration the way it would be typed in a config
// file, so round-tripping a loaded Config back to YAML stays readable.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
