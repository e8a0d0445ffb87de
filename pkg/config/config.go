package config

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/manifest"
)

// DefaultConfigFile is looked up when no -c flag is given.
const DefaultConfigFile = "integrity.yaml"

// DefaultConfigYAML is the commented starter config written by "integrity init".
//
//go:embed integrity.default.yaml
var DefaultConfigYAML string

// WatchConfig tunes watch mode.
type WatchConfig struct {
	Poll     time.Duration `yaml:"poll" validate:"gt=0"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// ServeConfig tunes the HTTP API.
type ServeConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// Config describes what to scan and where the manifest lives.
type Config struct {
	Root      string      `yaml:"root" validate:"required"`
	Manifest  string      `yaml:"manifest" validate:"required"`
	Algorithm string      `yaml:"algorithm" validate:"required,algorithm"`
	Format    string      `yaml:"format" validate:"omitempty,oneof=auto text jsonl"`
	Workers   int         `yaml:"workers" validate:"gte=0"`
	Include   []string    `yaml:"include"`
	Exclude   []string    `yaml:"exclude"`
	Watch     WatchConfig `yaml:"watch"`
	Serve     ServeConfig `yaml:"serve"`
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		Manifest:  "integrity.sum",
		Algorithm: hasher.DefaultAlgorithm,
		Format:    string(manifest.FormatAuto),
		Watch: WatchConfig{
			Poll:     500 * time.Millisecond,
			Debounce: 300 * time.Millisecond,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:7788"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("algorithm", func(fl validator.FieldLevel) bool {
		return hasher.Supported(fl.Field().String())
	})
	return v
}

// Validate checks the config after flags have been merged in.
func (this *Config) Validate() error {
	if err := validate.Struct(this); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ManifestFormat returns the parsed format. Validate guarantees it parses.
func (this *Config) ManifestFormat() manifest.Format {
	f, err := manifest.ParseFormat(this.Format)
	if err != nil {
		return manifest.FormatAuto
	}
	return f
}
