package alembic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/dist"
	"primamateria.systems/alembic/internal/download"
	"primamateria.systems/alembic/internal/manifestation"
	"primamateria.systems/alembic/internal/metrics"
	"primamateria.systems/alembic/internal/notify"
	"primamateria.systems/alembic/internal/prefix"
	"primamateria.systems/alembic/internal/temp"
	"primamateria.systems/alembic/internal/transaction"
	"primamateria.systems/alembic/pkg/components"
	"primamateria.systems/alembic/pkg/manifests"
	"primamateria.systems/alembic/pkg/plan"
)

var (
	ErrNotInstalled     = errors.New("no toolchain installed")
	ErrUnknownComponent = errors.New("unknown component")
)

type Alembic struct {
	Config        *AlembicConfig
	Manifestation *manifestation.Manifestation
	Metrics       *metrics.Metrics
	downloader    download.Downloader
	notify        notify.Sink
}

func NewAlembicFromConfig(c *AlembicConfig, sink notify.Sink) (*Alembic, error) {
	sink = notify.OrNop(sink)
	a := &Alembic{
		Config:     c,
		Metrics:    metrics.New(),
		downloader: download.NewClient(c.Download, sink),
		notify:     sink,
	}
	m, err := manifestation.Open(prefix.FromPath(c.Prefix), c.Target, manifestation.Options{
		Downloader:  a.downloader,
		Notify:      sink,
		TempRoot:    c.TempDir,
		RootPackage: c.RootPackage,
		Metrics:     a.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening install prefix: %w", err)
	}
	a.Manifestation = m
	return a, nil
}

// Toolchain parses name and fills in the configured target.
func (a *Alembic) Toolchain(name string) (dist.ToolchainDesc, error) {
	desc, err := dist.ParseToolchainDesc(name)
	if err != nil {
		return dist.ToolchainDesc{}, err
	}
	if desc.Target != "" && desc.Target != a.Config.Target {
		return dist.ToolchainDesc{}, fmt.Errorf("toolchain %v is for %v but the prefix is configured for %v", name, desc.Target, a.Config.Target)
	}
	return desc.WithDefaultTarget(a.Config.Target), nil
}

func (a *Alembic) FetchManifest(ctx context.Context, desc dist.ToolchainDesc) (*manifests.Manifest, error) {
	tmp, err := temp.NewArea(a.Config.TempDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tmp.Close() }()
	return dist.FetchManifest(ctx, a.downloader, desc.ManifestURL(a.Config.DistRoot), tmp)
}

// Changes turns extension names into changes against mf. A name is either a
// bare package, taken for the configured target, or a full <pkg>-<target>.
func (a *Alembic) Changes(mf *manifests.Manifest, add, remove []string) (manifestation.Changes, error) {
	var changes manifestation.Changes
	if len(add) == 0 && len(remove) == 0 {
		return changes, nil
	}
	root, err := a.Manifestation.RootTarget(mf)
	if err != nil {
		return changes, err
	}
	for _, n := range add {
		c, err := a.findExtension(root, n)
		if err != nil {
			return changes, err
		}
		changes.AddExtensions = append(changes.AddExtensions, c)
	}
	for _, n := range remove {
		c, err := a.findExtension(root, n)
		if err != nil {
			return changes, err
		}
		changes.RemoveExtensions = append(changes.RemoveExtensions, c)
	}
	cfg, err := a.Manifestation.InstalledConfig()
	if err != nil {
		return changes, err
	}
	if err := changes.Validate(root, cfg); err != nil {
		return changes, err
	}
	return changes, nil
}

func (a *Alembic) findExtension(root *manifests.TargetedPackage, name string) (components.Component, error) {
	for _, e := range root.Extensions {
		if e.Name() == name || (e.Pkg == name && e.Target == a.Config.Target) {
			return e, nil
		}
	}
	return components.Component{}, fmt.Errorf("%w: %v", ErrUnknownComponent, name)
}

// Update installs or updates the named toolchain.
func (a *Alembic) Update(ctx context.Context, toolchain string, add []string) (manifestation.UpdateStatus, error) {
	mf, changes, err := a.resolve(ctx, toolchain, add, nil)
	if err != nil {
		return manifestation.Unchanged, err
	}
	status, err := a.Manifestation.Update(ctx, mf, changes)
	a.writeMetrics()
	return status, err
}

func (a *Alembic) Plan(ctx context.Context, toolchain string, add, remove []string) (*plan.Plan, error) {
	var (
		mf      *manifests.Manifest
		changes manifestation.Changes
		err     error
	)
	if toolchain == "" {
		mf, err = a.installedManifest()
		if err == nil {
			changes, err = a.Changes(mf, add, remove)
		}
	} else {
		mf, changes, err = a.resolve(ctx, toolchain, add, remove)
	}
	if err != nil {
		return nil, err
	}
	return a.Manifestation.Plan(mf, changes)
}

func (a *Alembic) resolve(ctx context.Context, toolchain string, add, remove []string) (*manifests.Manifest, manifestation.Changes, error) {
	desc, err := a.Toolchain(toolchain)
	if err != nil {
		return nil, manifestation.Changes{}, err
	}
	mf, err := a.FetchManifest(ctx, desc)
	if err != nil {
		return nil, manifestation.Changes{}, err
	}
	changes, err := a.Changes(mf, add, remove)
	if err != nil {
		return nil, manifestation.Changes{}, err
	}
	return mf, changes, nil
}

func (a *Alembic) installedManifest() (*manifests.Manifest, error) {
	mf, err := a.Manifestation.InstalledManifest()
	if err != nil {
		return nil, err
	}
	if mf == nil {
		return nil, ErrNotInstalled
	}
	return mf, nil
}

// AddComponents installs extensions from the manifest already in the prefix.
func (a *Alembic) AddComponents(ctx context.Context, names ...string) (manifestation.UpdateStatus, error) {
	return a.modify(ctx, names, nil)
}

func (a *Alembic) RemoveComponents(ctx context.Context, names ...string) (manifestation.UpdateStatus, error) {
	return a.modify(ctx, nil, names)
}

func (a *Alembic) modify(ctx context.Context, add, remove []string) (manifestation.UpdateStatus, error) {
	mf, err := a.installedManifest()
	if err != nil {
		return manifestation.Unchanged, err
	}
	changes, err := a.Changes(mf, add, remove)
	if err != nil {
		return manifestation.Unchanged, err
	}
	status, err := a.Manifestation.Update(ctx, mf, changes)
	a.writeMetrics()
	return status, err
}

func (a *Alembic) Components() ([]components.Component, error) {
	cfg, err := a.Manifestation.InstalledConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	return cfg.Components, nil
}

func (a *Alembic) Uninstall(ctx context.Context) error {
	err := a.Manifestation.Uninstall(ctx)
	a.writeMetrics()
	return err
}

// Doctor lists registry entries whose files are gone or whose record is unreadable.
func (a *Alembic) Doctor() ([]string, error) {
	return a.Manifestation.Registry().Validate()
}

// Purge drops broken components from the registry without touching their files.
func (a *Alembic) Purge(names []string) (err error) {
	tmp, err := temp.NewArea(a.Config.TempDir)
	if err != nil {
		return err
	}
	defer func() { _ = tmp.Close() }()
	tx := transaction.New(a.Manifestation.Prefix(), tmp, a.notify)
	defer tx.Settle(&err)
	for _, n := range names {
		log.Info("purging component", "component", n)
		if err := a.Manifestation.Registry().Forget(tx, n); err != nil {
			return fmt.Errorf("error purging %v: %w", n, err)
		}
	}
	return tx.Commit()
}

func (a *Alembic) SavePlan(p *plan.Plan, outputfile string) error {
	if err := os.MkdirAll(a.Config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("error creating output dir: %w", err)
	}
	return p.Save(filepath.Join(a.Config.OutputDir, outputfile))
}

func (a *Alembic) writeMetrics() {
	if err := a.Metrics.WriteTextfile(a.Config.MetricsFile); err != nil {
		log.Warn("unable to write metrics", "file", a.Config.MetricsFile, "err", err)
	}
}
