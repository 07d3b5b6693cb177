package manifests

import (
	"errors"
	"fmt"
	"os"

	"primamateria.systems/alembic/pkg/components"
)

const (
	DistManifestFile         = "multirust-dist.toml"
	SupportedManifestVersion = "2"
)

var (
	ErrPackageNotFound = errors.New("package not found in manifest")
	ErrTargetNotFound  = errors.New("target not found for package")
)

// Manifest is a distribution manifest: every package the channel ships, per target.
type Manifest struct {
	ManifestVersion string             `toml:"manifest-version" json:"manifest-version" yaml:"manifest-version"`
	Date            string             `toml:"date,omitempty" json:"date,omitempty" yaml:"date,omitempty"`
	Packages        map[string]Package `toml:"pkg,omitempty" json:"pkg,omitempty" yaml:"pkg,omitempty"`
}

type Package struct {
	Version string                     `toml:"version,omitempty" json:"version,omitempty" yaml:"version,omitempty"`
	Targets map[string]TargetedPackage `toml:"target,omitempty" json:"target,omitempty" yaml:"target,omitempty"`
}

type TargetedPackage struct {
	Available  bool                   `toml:"available,omitempty" json:"available,omitempty" yaml:"available,omitempty"`
	URL        string                 `toml:"url,omitempty" json:"url,omitempty" yaml:"url,omitempty"`
	Hash       string                 `toml:"hash,omitempty" json:"hash,omitempty" yaml:"hash,omitempty"`
	Components []components.Component `toml:"components,omitempty" json:"components,omitempty" yaml:"components,omitempty"`
	Extensions []components.Component `toml:"extensions,omitempty" json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

func NewManifest() *Manifest {
	return &Manifest{
		ManifestVersion: SupportedManifestVersion,
		Packages:        make(map[string]Package),
	}
}

func ParseManifest(c Codec, data []byte) (*Manifest, error) {
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Packages == nil {
		m.Packages = make(map[string]Package)
	}
	return &m, nil
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(CodecFor(path), data)
}

func (m *Manifest) Validate() error {
	if m.ManifestVersion != SupportedManifestVersion {
		return fmt.Errorf("unsupported manifest version %q", m.ManifestVersion)
	}
	for name, p := range m.Packages {
		for target, tp := range p.Targets {
			if !tp.Available {
				continue
			}
			if tp.URL == "" || tp.Hash == "" {
				return fmt.Errorf("package %v for %v is available without url or hash", name, target)
			}
			for _, c := range tp.Components {
				if err := c.Validate(); err != nil {
					return fmt.Errorf("package %v for %v: %w", name, target, err)
				}
			}
			for _, c := range tp.Extensions {
				if err := c.Validate(); err != nil {
					return fmt.Errorf("package %v for %v: %w", name, target, err)
				}
			}
		}
	}
	return nil
}

func (m *Manifest) GetPackage(name string) (*Package, error) {
	p, ok := m.Packages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPackageNotFound, name)
	}
	return &p, nil
}

func (p *Package) GetTarget(target string) (*TargetedPackage, error) {
	tp, ok := p.Targets[target]
	if !ok || !tp.Available {
		return nil, fmt.Errorf("%w: %v", ErrTargetNotFound, target)
	}
	return &tp, nil
}

// Resolve finds the package providing a component for its target.
func (m *Manifest) Resolve(c components.Component) (*TargetedPackage, error) {
	p, err := m.GetPackage(c.Pkg)
	if err != nil {
		return nil, err
	}
	return p.GetTarget(c.Target)
}

// Equal reports whether two manifests describe the same distribution.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	a, err := TOMLCodec{}.Marshal(m)
	if err != nil {
		return false
	}
	b, err := TOMLCodec{}.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// IsExtension reports whether c is an optional extension of the package.
func (tp *TargetedPackage) IsExtension(c components.Component) bool {
	for _, e := range tp.Extensions {
		if e == c {
			return true
		}
	}
	return false
}
