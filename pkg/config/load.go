package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadOption is a functional option for Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	env map[string]string
}

// WithEnv overrides the environment used for template substitution.
// By default, os.Environ() is used.
func WithEnv(env map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.env = env
	}
}

// Load reads a YAML config file over Default(). Keys absent from the file
// keep their defaults. The result is not validated; call Validate once
// command-line overrides are applied.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	processed, _, err := Process(data, o.env)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(processed, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()
	if err := decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

func decode(raw map[string]any, target *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return decoder.Decode(raw)
}

// ResolvePath checks if the given config path exists. If it doesn't and
// ends with ".yaml", the ".yml" variant is tried (and vice versa).
func ResolvePath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}

	var alt string
	if base, ok := strings.CutSuffix(path, ".yaml"); ok {
		alt = base + ".yml"
	} else if base, ok := strings.CutSuffix(path, ".yml"); ok {
		alt = base + ".yaml"
	} else {
		return path
	}
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return path
}
