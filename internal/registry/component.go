package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"primamateria.systems/alembic/internal/transaction"
)

type PartKind int

const (
	PartFile PartKind = iota + 1
	PartDir
)

func (k PartKind) String() string {
	switch k {
	case PartFile:
		return "file"
	case PartDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Part is one prefix-relative path owned by a component.
type Part struct {
	Kind PartKind
	Path string
}

func (p Part) Encode() string {
	return fmt.Sprintf("%v:%v", p.Kind, filepath.ToSlash(p.Path))
}

func DecodePart(line string) (Part, error) {
	kind, path, ok := strings.Cut(line, ":")
	if !ok || path == "" {
		return Part{}, fmt.Errorf("malformed component record line %q", line)
	}
	path = filepath.FromSlash(path)
	if !filepath.IsLocal(path) {
		return Part{}, fmt.Errorf("component record path escapes prefix: %q", line)
	}
	switch kind {
	case "file":
		return Part{Kind: PartFile, Path: path}, nil
	case "dir":
		return Part{Kind: PartDir, Path: path}, nil
	default:
		return Part{}, fmt.Errorf("unknown component record kind %q", kind)
	}
}

func DecodeParts(data string) ([]Part, error) {
	var parts []Part
	for _, l := range strings.Split(data, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		p, err := DecodePart(l)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// InstalledComponent is a handle on one entry of the registry.
type InstalledComponent struct {
	name     string
	registry *Registry
}

func (c *InstalledComponent) Name() string {
	return c.name
}

func (c *InstalledComponent) Parts() ([]Part, error) {
	data, err := os.ReadFile(c.registry.prefix.Abs(c.registry.recordPath(c.name)))
	if err != nil {
		return nil, fmt.Errorf("error reading record for %v: %w", c.name, err)
	}
	return DecodeParts(string(data))
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(filepath.Clean(path)), "/")
}

// Uninstall stages removal of every owned path, deepest first, followed by the record itself.
func (c *InstalledComponent) Uninstall(tx *transaction.Transaction) error {
	parts, err := c.Parts()
	if err != nil {
		return err
	}
	slices.SortStableFunc(parts, func(a, b Part) int {
		return depth(b.Path) - depth(a.Path)
	})
	for _, p := range parts {
		switch p.Kind {
		case PartFile:
			err = tx.RemoveFile(c.name, p.Path)
		case PartDir:
			err = tx.RemoveDir(c.name, p.Path)
		}
		if err != nil {
			return err
		}
	}
	return c.registry.Forget(tx, c.name)
}
