package packages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mholt/archiver/v4"
	"primamateria.systems/alembic/internal/temp"
)

var ErrUnsafeArchivePath = errors.New("archive entry escapes extraction root")

// ArchivePackage is an image shipped as a tarball or zip, extracted into the temp area.
type ArchivePackage struct {
	*DirectoryPackage
	archive string
}

type extractor interface {
	Extract(ctx context.Context, archive io.Reader, handleFile archiver.FileHandler) error
}

type format struct {
	compression archiver.Decompressor
	archival    extractor
}

func formatFor(name string) (format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return format{compression: archiver.Gz{}, archival: archiver.Tar{}}, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return format{compression: archiver.Xz{}, archival: archiver.Tar{}}, nil
	case strings.HasSuffix(lower, ".tar"):
		return format{archival: archiver.Tar{}}, nil
	case strings.HasSuffix(lower, ".zip"):
		return format{archival: archiver.Zip{}}, nil
	default:
		return format{}, fmt.Errorf("unsupported archive format: %v", filepath.Base(name))
	}
}

// SupportedArchive reports whether name carries an archive suffix NewArchivePackage can open.
func SupportedArchive(name string) bool {
	_, err := formatFor(name)
	return err == nil
}

// NewArchivePackage extracts file and opens the image inside it. The archive's
// format is taken from name, which may differ from file (downloads land under temp names).
func NewArchivePackage(ctx context.Context, file, name string, tmp *temp.Area) (*ArchivePackage, error) {
	f, err := formatFor(name)
	if err != nil {
		return nil, err
	}
	dir, err := tmp.NewDir()
	if err != nil {
		return nil, err
	}
	if err := extract(ctx, f, file, dir); err != nil {
		return nil, fmt.Errorf("error extracting %v: %w", filepath.Base(name), err)
	}
	root, err := findImageRoot(dir)
	if err != nil {
		return nil, err
	}
	dp, err := NewDirectoryPackage(root)
	if err != nil {
		return nil, err
	}
	return &ArchivePackage{DirectoryPackage: dp, archive: file}, nil
}

// maxLinkHops bounds symlink resolution while checking link targets.
const maxLinkHops = 40

// extract unpacks file into dir through an os.Root. No entry may pass through a
// symlink, and every link must resolve inside dir.
func extract(ctx context.Context, f format, file, dir string) error {
	in, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	var r io.Reader = in
	if f.compression != nil {
		rc, err := f.compression.OpenReader(in)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		r = rc
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer func() { _ = root.Close() }()

	err = f.archival.Extract(ctx, r, func(ctx context.Context, af archiver.FileInfo) error {
		name := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(af.NameInArchive, "./")))
		if name == "." {
			return nil
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: %v", ErrUnsafeArchivePath, af.NameInArchive)
		}
		if err := noLinksAlong(dir, name); err != nil {
			return err
		}
		if af.IsDir() {
			return mkdirAll(root, name)
		}
		if parent := filepath.Dir(name); parent != "." {
			if err := mkdirAll(root, parent); err != nil {
				return err
			}
		}
		if af.Mode()&fs.ModeSymlink != 0 {
			if !linkInside(dir, name, af.LinkTarget) {
				return fmt.Errorf("%w: link %v -> %v", ErrUnsafeArchivePath, af.NameInArchive, af.LinkTarget)
			}
			return os.Symlink(af.LinkTarget, filepath.Join(dir, name))
		}
		rc, err := af.Open()
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		out, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, af.Mode().Perm()|0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		return err
	}
	return checkLinks(dir)
}

// noLinksAlong fails if any existing component of name under dir, the last included, is a symlink.
func noLinksAlong(dir, name string) error {
	cur := dir
	for _, part := range strings.Split(name, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			rel, _ := filepath.Rel(dir, cur)
			return fmt.Errorf("%w: %v passes through link %v", ErrUnsafeArchivePath, name, rel)
		}
	}
	return nil
}

func mkdirAll(root *os.Root, name string) error {
	cur := ""
	for _, part := range strings.Split(name, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		if err := root.Mkdir(cur, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// linkInside reports whether a link at name pointing to target resolves inside
// dir, following the links already on disk. Components that don't exist yet
// are taken as plain directories.
func linkInside(dir, name, target string) bool {
	if filepath.IsAbs(target) {
		return false
	}
	pending := strings.Split(filepath.ToSlash(filepath.Dir(name))+"/"+filepath.ToSlash(target), "/")
	var resolved []string
	hops := 0
	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]
		switch part {
		case "", ".":
			continue
		case "..":
			if len(resolved) == 0 {
				return false
			}
			resolved = resolved[:len(resolved)-1]
			continue
		}
		cur := filepath.Join(dir, filepath.Join(resolved...), part)
		info, err := os.Lstat(cur)
		if err != nil || info.Mode()&fs.ModeSymlink == 0 {
			resolved = append(resolved, part)
			continue
		}
		hops++
		if hops > maxLinkHops {
			return false
		}
		next, err := os.Readlink(cur)
		if err != nil || filepath.IsAbs(next) {
			return false
		}
		pending = append(strings.Split(filepath.ToSlash(next), "/"), pending...)
	}
	return true
}

// checkLinks rechecks every link under dir. A later entry can change where an earlier link resolves.
func checkLinks(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink == 0 {
			return err
		}
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if !linkInside(dir, rel, target) {
			return fmt.Errorf("%w: link %v -> %v", ErrUnsafeArchivePath, filepath.ToSlash(rel), target)
		}
		return nil
	})
}

// findImageRoot returns dir if it holds an image, or the single directory inside it that does.
func findImageRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, VersionFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", ErrNotAnImage
	}
	root := filepath.Join(dir, dirs[0])
	if _, err := os.Stat(filepath.Join(root, VersionFile)); err != nil {
		return "", ErrNotAnImage
	}
	log.Debug("found installer image", "root", root)
	return root, nil
}
