package manifestation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/download"
	"primamateria.systems/alembic/internal/metrics"
	"primamateria.systems/alembic/internal/notify"
	"primamateria.systems/alembic/internal/packages"
	"primamateria.systems/alembic/internal/prefix"
	"primamateria.systems/alembic/internal/registry"
	"primamateria.systems/alembic/internal/temp"
	"primamateria.systems/alembic/internal/transaction"
	"primamateria.systems/alembic/pkg/components"
	"primamateria.systems/alembic/pkg/manifests"
	"primamateria.systems/alembic/pkg/plan"
)

const DefaultRootPackage = "rust"

type UpdateStatus int

const (
	Unchanged UpdateStatus = iota
	Changed
)

func (s UpdateStatus) String() string {
	if s == Changed {
		return "changed"
	}
	return "unchanged"
}

type Options struct {
	Downloader download.Downloader
	Notify     notify.Sink
	// TempRoot holds downloads, extracted images and backups. Defaults to os.TempDir().
	TempRoot string
	// RootPackage is the manifest package whose components make up a toolchain.
	RootPackage string
	Metrics     *metrics.Metrics
}

// Manifestation keeps one prefix in step with a distribution manifest.
type Manifestation struct {
	prefix     prefix.InstallPrefix
	target     string
	registry   *registry.Registry
	downloader download.Downloader
	notify     notify.Sink
	tempRoot   string
	rootPkg    string
	metrics    *metrics.Metrics
}

// Open prepares p for updates for the given target triple. The prefix need
// not exist yet; an existing one with newer installer metadata is rejected.
func Open(p prefix.InstallPrefix, target string, opts Options) (*Manifestation, error) {
	if target == "" {
		return nil, errors.New("no target triple given")
	}
	reg, err := registry.Open(p)
	if err != nil {
		return nil, err
	}
	sink := notify.OrNop(opts.Notify)
	m := &Manifestation{
		prefix:     p,
		target:     target,
		registry:   reg,
		downloader: opts.Downloader,
		notify:     sink,
		tempRoot:   opts.TempRoot,
		rootPkg:    opts.RootPackage,
		metrics:    opts.Metrics,
	}
	if m.downloader == nil {
		m.downloader = download.NewClient(download.Config{}, sink)
	}
	if m.rootPkg == "" {
		m.rootPkg = DefaultRootPackage
	}
	return m, nil
}

func (m *Manifestation) Prefix() prefix.InstallPrefix {
	return m.prefix
}

func (m *Manifestation) Target() string {
	return m.target
}

func (m *Manifestation) Registry() *registry.Registry {
	return m.registry
}

// InstalledManifest returns the dist manifest of the last update, or nil if there is none.
func (m *Manifestation) InstalledManifest() (*manifests.Manifest, error) {
	mf, err := manifests.LoadManifest(m.prefix.ManifestFile(manifests.DistManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading installed manifest: %w", err)
	}
	return mf, nil
}

// InstalledConfig returns the recorded component list, or nil on a fresh prefix.
func (m *Manifestation) InstalledConfig() (*manifests.Config, error) {
	cfg, err := manifests.LoadConfig(m.prefix.ManifestFile(manifests.ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading dist config: %w", err)
	}
	return cfg, nil
}

// RootTarget resolves the root package of mf for this installation's target.
func (m *Manifestation) RootTarget(mf *manifests.Manifest) (*manifests.TargetedPackage, error) {
	pkg, err := mf.GetPackage(m.rootPkg)
	if err != nil {
		return nil, err
	}
	return pkg.GetTarget(m.target)
}

type state struct {
	manifest *manifests.Manifest
	config   *manifests.Config
	root     *manifests.TargetedPackage
}

func (m *Manifestation) load(newManifest *manifests.Manifest) (*state, error) {
	root, err := m.RootTarget(newManifest)
	if err != nil {
		return nil, err
	}
	old, err := m.InstalledManifest()
	if err != nil {
		return nil, err
	}
	cfg, err := m.InstalledConfig()
	if err != nil {
		return nil, err
	}
	return &state{manifest: old, config: cfg, root: root}, nil
}

func (s *state) installed() []components.Component {
	if s.config == nil {
		return nil
	}
	return s.config.Components
}

// Plan reconciles without touching the prefix. Invalid changes are returned as an error.
func (m *Manifestation) Plan(newManifest *manifests.Manifest, changes Changes) (*plan.Plan, error) {
	st, err := m.load(newManifest)
	if err != nil {
		return nil, err
	}
	if err := changes.Validate(st.root, st.config); err != nil {
		return nil, err
	}
	lists := BuildUpdateLists(newManifest, st.manifest, st.config, changes, st.root)
	p, err := lists.Plan(changes)
	if err != nil {
		return nil, err
	}
	if err := plan.NewDefaultValidationPipeline(st.installed(), lists.Final).Validate(p); err != nil {
		return nil, err
	}
	oldStr := ""
	if st.manifest != nil {
		if oldStr, err = manifests.Stringify(manifests.TOMLCodec{}, st.manifest); err != nil {
			return nil, err
		}
	}
	newStr, err := manifests.Stringify(manifests.TOMLCodec{}, newManifest)
	if err != nil {
		return nil, err
	}
	p.SetManifestDiff(oldStr, newStr)
	return p, nil
}

// Update brings the prefix to the state newManifest and changes describe.
// Everything to install is downloaded and verified before the prefix is
// touched; after that all changes happen in one transaction.
func (m *Manifestation) Update(ctx context.Context, newManifest *manifests.Manifest, changes Changes) (status UpdateStatus, err error) {
	start := time.Now()
	defer func() { m.metrics.Observe("update", start, err) }()

	st, err := m.load(newManifest)
	if err != nil {
		return Unchanged, err
	}
	lists := BuildUpdateLists(newManifest, st.manifest, st.config, changes, st.root)
	if lists.Empty() {
		log.Debug("installation is up to date", "prefix", m.prefix)
		return Unchanged, nil
	}
	if p, err := lists.Plan(changes); err == nil {
		for _, l := range p.PrettyLines() {
			log.Debug(l)
		}
	}

	tmp, err := temp.NewArea(m.tempRoot)
	if err != nil {
		return Unchanged, err
	}
	defer m.closeTemp(tmp)

	fetched, err := m.fetch(ctx, newManifest, lists.Install, tmp)
	if err != nil {
		return Unchanged, err
	}

	tx := transaction.New(m.prefix, tmp, m.notify)
	defer m.settle(tx, &err)

	for _, c := range lists.Uninstall {
		if err := m.uninstallComponent(tx, c); err != nil {
			return Unchanged, err
		}
	}
	for _, f := range fetched {
		if err := m.installComponent(ctx, tx, f, tmp); err != nil {
			return Unchanged, err
		}
	}

	if err := m.writeMetadata(tx, manifests.DistManifestFile, newManifest); err != nil {
		return Unchanged, err
	}
	if err := m.writeMetadata(tx, manifests.ConfigFile, manifests.NewConfig(lists.Final...)); err != nil {
		return Unchanged, err
	}
	if err := ctx.Err(); err != nil {
		return Unchanged, err
	}
	if err := tx.Commit(); err != nil {
		return Unchanged, err
	}
	m.metrics.Transaction(true)
	for _, c := range lists.Uninstall {
		m.metrics.ComponentRemoved(c.Name())
	}
	for _, c := range lists.Install {
		m.metrics.ComponentInstalled(c.Name())
	}
	return Changed, nil
}

// Uninstall removes every recorded component and the dist metadata.
func (m *Manifestation) Uninstall(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.metrics.Observe("uninstall", start, err) }()

	cfgRel := m.prefix.RelManifestFile(manifests.ConfigFile)
	cfg, err := manifests.LoadConfig(m.prefix.Abs(cfgRel))
	if err != nil {
		return fmt.Errorf("error reading dist config: %w", err)
	}

	tmp, err := temp.NewArea(m.tempRoot)
	if err != nil {
		return err
	}
	defer m.closeTemp(tmp)

	tx := transaction.New(m.prefix, tmp, m.notify)
	defer m.settle(tx, &err)

	if err := tx.RemoveFile("dist config", cfgRel); err != nil {
		return err
	}
	for _, c := range cfg.Components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.uninstallComponent(tx, c); err != nil {
			return err
		}
	}
	manifestRel := m.prefix.RelManifestFile(manifests.DistManifestFile)
	if _, err := os.Lstat(m.prefix.Abs(manifestRel)); err == nil {
		if err := tx.RemoveFile("dist manifest", manifestRel); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.metrics.Transaction(true)
	for _, c := range cfg.Components {
		m.metrics.ComponentRemoved(c.Name())
	}
	return nil
}

// settle rolls tx back unless it was committed, folding rollback failures into *err.
func (m *Manifestation) settle(tx *transaction.Transaction, err *error) {
	if tx.Settle(err) {
		m.metrics.Transaction(false)
	}
}

func (m *Manifestation) closeTemp(tmp *temp.Area) {
	if err := tmp.Close(); err != nil {
		m.notify.Notify(notify.New(notify.KindTempCleanupFailed, "failed to clean up temp files", "root", tmp.Root(), "err", err))
	}
}

type fetchedComponent struct {
	component components.Component
	file      string
	name      string
}

func (m *Manifestation) fetch(ctx context.Context, mf *manifests.Manifest, install []components.Component, tmp *temp.Area) ([]fetchedComponent, error) {
	results := make([]fetchedComponent, 0, len(install))
	for _, c := range install {
		tp, err := mf.Resolve(c)
		if err != nil {
			return nil, err
		}
		name := archiveName(tp.URL)
		dest, err := tmp.NewFilePath(path.Ext(name))
		if err != nil {
			return nil, err
		}
		m.notify.Notify(notify.New(notify.KindDownloadingComponent, "downloading component", "component", c.Name(), "url", tp.URL))
		res, err := m.downloader.Download(ctx, tp.URL, dest)
		if err != nil {
			return nil, &ComponentDownloadFailedError{Component: c, Err: err}
		}
		m.metrics.Downloaded(res.Size)
		if !strings.EqualFold(res.Hash, tp.Hash) {
			m.metrics.ChecksumFailed()
			return nil, &ChecksumFailedError{URL: tp.URL, Expected: tp.Hash, Calculated: res.Hash}
		}
		m.notify.Notify(notify.New(notify.KindChecksumValid, "checksum valid", "url", tp.URL))
		results = append(results, fetchedComponent{component: c, file: dest, name: name})
	}
	return results, nil
}

// archiveName is the file name the archive format is detected from. Dist
// servers ship gzipped tarballs, so anything unrecognized is treated as one.
func archiveName(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if !packages.SupportedArchive(name) {
		name += ".tar.gz"
	}
	return name
}

func (m *Manifestation) uninstallComponent(tx *transaction.Transaction, c components.Component) error {
	for _, name := range components.InstallerNames(c) {
		installed, err := m.registry.Find(name)
		if errors.Is(err, registry.ErrComponentNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		m.notify.Notify(notify.New(notify.KindRemovingComponent, "removing component", "component", name))
		return installed.Uninstall(tx)
	}
	m.notify.Notify(notify.New(notify.KindMissingInstalledComponent, "component not installed", "component", c.Name()))
	return nil
}

func (m *Manifestation) installComponent(ctx context.Context, tx *transaction.Transaction, f fetchedComponent, tmp *temp.Area) error {
	m.notify.Notify(notify.New(notify.KindExtractingComponent, "extracting component", "component", f.component.Name()))
	pkg, err := packages.NewArchivePackage(ctx, f.file, f.name, tmp)
	if err != nil {
		return err
	}
	name, short := f.component.Name(), f.component.ShortName()
	if !pkg.Contains(name, short) {
		return &packages.CorruptComponentError{Package: name}
	}
	m.notify.Notify(notify.New(notify.KindInstallingComponent, "installing component", "component", name))
	return pkg.Install(m.registry, name, short, tx)
}

func (m *Manifestation) writeMetadata(tx *transaction.Transaction, file string, v any) error {
	data, err := manifests.Stringify(manifests.TOMLCodec{}, v)
	if err != nil {
		return err
	}
	rel := m.prefix.RelManifestFile(file)
	if err := tx.ModifyFile(rel); err != nil {
		return err
	}
	if err := os.WriteFile(m.prefix.Abs(rel), []byte(data), 0o644); err != nil {
		return fmt.Errorf("error writing %v: %w", file, err)
	}
	return nil
}
