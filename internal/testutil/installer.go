package testutil

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type CommandKind int

const (
	CommandFile CommandKind = iota + 1
	CommandDir
)

// MockCommand is one line of a component's manifest.in.
type MockCommand struct {
	Kind CommandKind
	Path string
}

func File(path string) MockCommand {
	return MockCommand{Kind: CommandFile, Path: path}
}

func Dir(path string) MockCommand {
	return MockCommand{Kind: CommandDir, Path: path}
}

type MockFile struct {
	Path    string
	Content string
}

type MockComponent struct {
	Name     string
	Commands []MockCommand
	Files    []MockFile
}

// MockInstallerBuilder writes a rust-installer v3 image.
type MockInstallerBuilder struct {
	Components []MockComponent
}

func (b MockInstallerBuilder) Build(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	var names []string
	for _, c := range b.Components {
		names = append(names, c.Name)
		compDir := filepath.Join(root, c.Name)
		if err := os.MkdirAll(compDir, 0o755); err != nil {
			return err
		}
		var manifest strings.Builder
		for _, cmd := range c.Commands {
			switch cmd.Kind {
			case CommandFile:
				fmt.Fprintf(&manifest, "file:%v\n", cmd.Path)
			case CommandDir:
				fmt.Fprintf(&manifest, "dir:%v\n", cmd.Path)
			}
		}
		if err := os.WriteFile(filepath.Join(compDir, "manifest.in"), []byte(manifest.String()), 0o644); err != nil {
			return err
		}
		for _, f := range c.Files {
			path := filepath.Join(compDir, filepath.FromSlash(f.Path))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
				return err
			}
		}
	}
	if err := os.WriteFile(filepath.Join(root, "components"), []byte(strings.Join(names, "\n")+"\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "rust-installer-version"), []byte("3\n"), 0o644)
}

// BuildTarball writes the image as a gzipped tarball whose entries sit under topDir,
// the way dist tarballs are laid out, and returns its sha256 hex digest.
func (b MockInstallerBuilder) BuildTarball(path, topDir string) (string, error) {
	staging, err := os.MkdirTemp("", "alembic-mock")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(staging) }()
	if err := b.Build(staging); err != nil {
		return "", err
	}
	if err := WriteTarGz(path, staging, topDir); err != nil {
		return "", err
	}
	return HashFile(path)
}

func WriteTarGz(path, root, topDir string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(topDir, rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
