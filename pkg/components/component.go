package components

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidComponent = errors.New("invalid component")

// Component identifies an installable unit of a package for one target triple.
type Component struct {
	Pkg    string `toml:"pkg" json:"pkg" yaml:"pkg"`
	Target string `toml:"target" json:"target" yaml:"target"`
}

func New(pkg, target string) Component {
	return Component{Pkg: pkg, Target: target}
}

// Name is the long installer name, <pkg>-<target>.
func (c Component) Name() string {
	return fmt.Sprintf("%v-%v", c.Pkg, c.Target)
}

// ShortName is the bare package name, used by images that predate target suffixes.
func (c Component) ShortName() string {
	return c.Pkg
}

func (c Component) String() string {
	return c.Name()
}

func (c Component) Validate() error {
	if c.Pkg == "" {
		return fmt.Errorf("%w: missing pkg", ErrInvalidComponent)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: %v missing target", ErrInvalidComponent, c.Pkg)
	}
	if strings.ContainsAny(c.Pkg, "/\n") || strings.ContainsAny(c.Target, "/\n") {
		return fmt.Errorf("%w: %v", ErrInvalidComponent, c.Name())
	}
	return nil
}

// InstallerNames returns the names a component may be recorded under, in lookup order.
func InstallerNames(c Component) []string {
	return []string{c.Name(), c.ShortName()}
}

func ComponentComparator(a, b any) int {
	ca := a.(Component)
	cb := b.(Component)
	if c := strings.Compare(ca.Pkg, cb.Pkg); c != 0 {
		return c
	}
	return strings.Compare(ca.Target, cb.Target)
}
