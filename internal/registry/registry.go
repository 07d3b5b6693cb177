package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/prefix"
	"primamateria.systems/alembic/internal/transaction"
)

const (
	InstallerVersion = 3
	ComponentsFile   = "components"
	VersionFile      = "rust-installer-version"
	RecordPrefix     = "manifest-"
)

var ErrComponentNotFound = errors.New("component not installed")

// BadInstalledMetadataVersionError is returned when the prefix was written by a newer installer.
type BadInstalledMetadataVersionError struct {
	Version string
}

func (e *BadInstalledMetadataVersionError) Error() string {
	return fmt.Sprintf("unsupported metadata version in existing installation: %v", e.Version)
}

// Registry is the record, kept inside the prefix, of installed components and the paths they own.
// It holds no state of its own; every read goes to disk so it always reflects staged changes.
type Registry struct {
	prefix prefix.InstallPrefix
}

func Open(p prefix.InstallPrefix) (*Registry, error) {
	data, err := os.ReadFile(p.ManifestFile(VersionFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Registry{prefix: p}, nil
		}
		return nil, fmt.Errorf("error reading installed metadata version: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	v, err := strconv.Atoi(raw)
	if err != nil || v > InstallerVersion {
		return nil, &BadInstalledMetadataVersionError{Version: raw}
	}
	log.Debug("opened component registry", "prefix", p, "version", v)
	return &Registry{prefix: p}, nil
}

func (r *Registry) Prefix() prefix.InstallPrefix {
	return r.prefix
}

func (r *Registry) recordPath(name string) string {
	return r.prefix.RelManifestFile(RecordPrefix + name)
}

func (r *Registry) readNames() ([]string, error) {
	data, err := os.ReadFile(r.prefix.ManifestFile(ComponentsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	var names []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

func (r *Registry) writeNames(tx *transaction.Transaction, names []string) error {
	rel := r.prefix.RelManifestFile(ComponentsFile)
	if err := tx.ModifyFile(rel); err != nil {
		return err
	}
	content := ""
	for _, n := range names {
		content += n + "\n"
	}
	return os.WriteFile(r.prefix.Abs(rel), []byte(content), 0o644)
}

func (r *Registry) writeVersion(tx *transaction.Transaction) error {
	rel := r.prefix.RelManifestFile(VersionFile)
	if err := tx.ModifyFile(rel); err != nil {
		return err
	}
	return os.WriteFile(r.prefix.Abs(rel), []byte(fmt.Sprintf("%v\n", InstallerVersion)), 0o644)
}

func (r *Registry) ListNames() ([]string, error) {
	return r.readNames()
}

func (r *Registry) List() ([]*InstalledComponent, error) {
	names, err := r.readNames()
	if err != nil {
		return nil, fmt.Errorf("error listing installed components: %w", err)
	}
	result := make([]*InstalledComponent, 0, len(names))
	for _, n := range names {
		result = append(result, &InstalledComponent{name: n, registry: r})
	}
	return result, nil
}

func (r *Registry) Find(name string) (*InstalledComponent, error) {
	names, err := r.readNames()
	if err != nil {
		return nil, fmt.Errorf("error finding component %v: %w", name, err)
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %v", ErrComponentNotFound, name)
	}
	return &InstalledComponent{name: name, registry: r}, nil
}

// Add records a newly installed component. The component's files must already be staged in tx.
func (r *Registry) Add(tx *transaction.Transaction, name string, parts []Part) error {
	var content strings.Builder
	for _, p := range parts {
		content.WriteString(p.Encode())
		content.WriteString("\n")
	}
	if err := tx.WriteFile(name, r.recordPath(name), []byte(content.String())); err != nil {
		return err
	}
	names, err := r.readNames()
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		names = append(names, name)
	}
	if err := r.writeNames(tx, names); err != nil {
		return fmt.Errorf("error updating component list: %w", err)
	}
	return r.writeVersion(tx)
}

// Forget drops a component from the list and removes its record when one exists, leaving its files alone.
func (r *Registry) Forget(tx *transaction.Transaction, name string) error {
	rel := r.recordPath(name)
	if _, err := os.Lstat(r.prefix.Abs(rel)); err == nil {
		if err := tx.RemoveFile(name, rel); err != nil {
			return err
		}
	}
	names, err := r.readNames()
	if err != nil {
		return err
	}
	names = slices.DeleteFunc(names, func(n string) bool { return n == name })
	return r.writeNames(tx, names)
}

// Validate returns the names of listed components whose record is missing or unreadable,
// or that own paths no longer present in the prefix.
func (r *Registry) Validate() ([]string, error) {
	installed, err := r.List()
	if err != nil {
		return nil, err
	}
	var corrupted []string
	for _, c := range installed {
		parts, err := c.Parts()
		if err != nil {
			log.Debug("unreadable component record", "component", c.Name(), "err", err)
			corrupted = append(corrupted, c.Name())
			continue
		}
		for _, p := range parts {
			if _, err := os.Lstat(r.prefix.Abs(p.Path)); err != nil {
				log.Debug("component path missing", "component", c.Name(), "path", p.Path)
				corrupted = append(corrupted, c.Name())
				break
			}
		}
	}
	return corrupted, nil
}
