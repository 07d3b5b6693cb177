package packages

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/registry"
	"primamateria.systems/alembic/internal/transaction"
)

const (
	MinInstallerVersion = 3
	MaxInstallerVersion = 3

	VersionFile    = "rust-installer-version"
	ComponentsFile = "components"
	ManifestFile   = "manifest.in"
)

var ErrNotAnImage = errors.New("no installer image found")

// CorruptComponentError is returned when an image's declared contents don't match what it holds.
type CorruptComponentError struct {
	Package string
	Err     error
}

func (e *CorruptComponentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("component %v is corrupt: %v", e.Package, e.Err)
	}
	return fmt.Sprintf("component %v is corrupt", e.Package)
}

func (e *CorruptComponentError) Unwrap() error {
	return e.Err
}

type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported installer version: %v", e.Version)
}

// Package is an install image holding one or more components.
type Package interface {
	// Contains reports whether the image has name, or shortName when it is non-empty.
	Contains(name, shortName string) bool
	// Install stages the component's files into tx and records it in reg under name.
	Install(reg *registry.Registry, name, shortName string, tx *transaction.Transaction) error
}

// DirectoryPackage is an image already extracted to disk.
type DirectoryPackage struct {
	path       string
	components []string
}

func NewDirectoryPackage(path string) (*DirectoryPackage, error) {
	if err := validateInstallerVersion(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(path, ComponentsFile))
	if err != nil {
		return nil, fmt.Errorf("error reading image component list: %w", err)
	}
	var comps []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			comps = append(comps, l)
		}
	}
	return &DirectoryPackage{path: path, components: comps}, nil
}

func validateInstallerVersion(path string) error {
	data, err := os.ReadFile(filepath.Join(path, VersionFile))
	if err != nil {
		return fmt.Errorf("error reading installer version: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	v, err := strconv.Atoi(raw)
	if err != nil || v < MinInstallerVersion || v > MaxInstallerVersion {
		return &UnsupportedVersionError{Version: raw}
	}
	return nil
}

func (p *DirectoryPackage) Path() string {
	return p.path
}

func (p *DirectoryPackage) Components() []string {
	return slices.Clone(p.components)
}

func (p *DirectoryPackage) Contains(name, shortName string) bool {
	if slices.Contains(p.components, name) {
		return true
	}
	return shortName != "" && slices.Contains(p.components, shortName)
}

func (p *DirectoryPackage) Install(reg *registry.Registry, name, shortName string, tx *transaction.Transaction) error {
	actual := name
	if !slices.Contains(p.components, name) && shortName != "" {
		actual = shortName
	}
	root := filepath.Join(p.path, actual)
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return &CorruptComponentError{Package: name, Err: err}
	}
	parts, err := registry.DecodeParts(string(data))
	if err != nil {
		return &CorruptComponentError{Package: name, Err: err}
	}
	log.Debug("installing component", "component", name, "image", actual, "parts", len(parts))
	for _, part := range parts {
		src := filepath.Join(root, part.Path)
		info, err := os.Stat(src)
		if err != nil {
			return &CorruptComponentError{Package: name, Err: err}
		}
		switch part.Kind {
		case registry.PartFile:
			if info.IsDir() {
				return &CorruptComponentError{Package: name, Err: fmt.Errorf("%v is a directory", part.Path)}
			}
			if err := tx.CopyFile(name, part.Path, src); err != nil {
				return err
			}
		case registry.PartDir:
			if !info.IsDir() {
				return &CorruptComponentError{Package: name, Err: fmt.Errorf("%v is not a directory", part.Path)}
			}
			if err := tx.CopyDir(name, part.Path, src); err != nil {
				return err
			}
		}
		if err := setPermissions(tx.Prefix().Abs(part.Path), part.Path); err != nil {
			return err
		}
	}
	return reg.Add(tx, name, parts)
}

// setPermissions applies installer permissions: directories and anything under bin/ get 0755, other files 0644.
func setPermissions(abs, rel string) error {
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		mode := fs.FileMode(0o644)
		if d.IsDir() {
			mode = 0o755
		} else {
			sub, err := filepath.Rel(abs, path)
			if err != nil {
				return err
			}
			if isBin(filepath.Join(rel, sub)) {
				mode = 0o755
			}
		}
		if err := os.Chmod(path, mode); err != nil {
			return fmt.Errorf("error setting permissions on %v: %w", path, err)
		}
		return nil
	})
}

func isBin(rel string) bool {
	first, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(rel)), "/")
	return first == "bin"
}
