package prefix

import (
	"path/filepath"
)

const DefaultMetadataDir = "lib/rustlib"

// InstallPrefix is the root directory a toolchain is installed into.
type InstallPrefix struct {
	root        string
	metadataDir string
}

func FromPath(root string) InstallPrefix {
	return InstallPrefix{root: root, metadataDir: DefaultMetadataDir}
}

func WithMetadataDir(root, metadataDir string) InstallPrefix {
	if metadataDir == "" {
		metadataDir = DefaultMetadataDir
	}
	return InstallPrefix{root: root, metadataDir: metadataDir}
}

func (p InstallPrefix) Path() string {
	return p.root
}

func (p InstallPrefix) Abs(rel string) string {
	return filepath.Join(p.root, rel)
}

// RelManifestFile is the prefix-relative path of a metadata file.
func (p InstallPrefix) RelManifestFile(name string) string {
	return filepath.Join(p.metadataDir, name)
}

func (p InstallPrefix) ManifestFile(name string) string {
	return filepath.Join(p.root, p.metadataDir, name)
}

func (p InstallPrefix) ManifestDir() string {
	return filepath.Join(p.root, p.metadataDir)
}

func (p InstallPrefix) String() string {
	return p.root
}
