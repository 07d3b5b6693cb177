package manifests

import (
	"fmt"
	"os"

	"primamateria.systems/alembic/pkg/components"
)

const (
	ConfigFile             = "multirust-config.toml"
	SupportedConfigVersion = "1"
)

// Config records which components are installed in a prefix.
type Config struct {
	ConfigVersion string                 `toml:"config-version" json:"config-version" yaml:"config-version"`
	Components    []components.Component `toml:"components,omitempty" json:"components,omitempty" yaml:"components,omitempty"`
}

func NewConfig(cs ...components.Component) *Config {
	return &Config{
		ConfigVersion: SupportedConfigVersion,
		Components:    cs,
	}
}

func ParseConfig(c Codec, data []byte) (*Config, error) {
	var cfg Config
	if err := c.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(CodecFor(path), data)
}

func (c *Config) Validate() error {
	if c.ConfigVersion != SupportedConfigVersion {
		return fmt.Errorf("unsupported config version %q", c.ConfigVersion)
	}
	for _, comp := range c.Components {
		if err := comp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Set() *components.Set {
	return components.NewSet(c.Components...)
}
