package dist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/download"
	"primamateria.systems/alembic/internal/temp"
	"primamateria.systems/alembic/pkg/manifests"
)

const (
	DefaultDistRoot = "https://static.rust-lang.org"

	dateLayout = "2006-01-02"
)

var ErrInvalidToolchain = errors.New("invalid toolchain name")

var channels = []string{"nightly", "beta", "stable"}

// ToolchainDesc names a release: <channel>[-<YYYY-MM-DD>][-<target triple>].
type ToolchainDesc struct {
	Channel string
	Date    string
	Target  string
}

func ParseToolchainDesc(s string) (ToolchainDesc, error) {
	parts := strings.Split(s, "-")
	desc := ToolchainDesc{Channel: parts[0]}
	if !validChannel(desc.Channel) {
		return ToolchainDesc{}, fmt.Errorf("%w: %q", ErrInvalidToolchain, s)
	}
	rest := parts[1:]
	if len(rest) >= 3 {
		candidate := strings.Join(rest[:3], "-")
		if _, err := time.Parse(dateLayout, candidate); err == nil {
			desc.Date = candidate
			rest = rest[3:]
		}
	}
	if len(rest) > 0 {
		desc.Target = strings.Join(rest, "-")
		if len(rest) < 2 || slices.Contains(rest, "") || isNumber(rest[0]) {
			return ToolchainDesc{}, fmt.Errorf("%w: bad target triple in %q", ErrInvalidToolchain, s)
		}
	}
	return desc, nil
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func validChannel(c string) bool {
	if slices.Contains(channels, c) {
		return true
	}
	// numbered releases, e.g. 1.8.0
	nums := strings.Split(c, ".")
	if len(nums) != 3 {
		return false
	}
	for _, n := range nums {
		if !isNumber(n) {
			return false
		}
	}
	return true
}

func (d ToolchainDesc) String() string {
	s := d.Channel
	if d.Date != "" {
		s += "-" + d.Date
	}
	if d.Target != "" {
		s += "-" + d.Target
	}
	return s
}

// WithDefaultTarget fills in target when the descriptor names none.
func (d ToolchainDesc) WithDefaultTarget(target string) ToolchainDesc {
	if d.Target == "" {
		d.Target = target
	}
	return d
}

// ManifestURL is the location of the channel manifest under root.
func (d ToolchainDesc) ManifestURL(root string) string {
	root = strings.TrimSuffix(root, "/")
	if d.Date != "" {
		return fmt.Sprintf("%v/dist/%v/channel-rust-%v.toml", root, d.Date, d.Channel)
	}
	return fmt.Sprintf("%v/dist/channel-rust-%v.toml", root, d.Channel)
}

// FetchManifest downloads and parses the manifest at rawURL.
func FetchManifest(ctx context.Context, d download.Downloader, rawURL string, tmp *temp.Area) (*manifests.Manifest, error) {
	dest, err := tmp.NewFilePath(".toml")
	if err != nil {
		return nil, err
	}
	defer func() { _ = tmp.Release(dest) }()
	log.Debug("fetching manifest", "url", rawURL)
	if _, err := d.Download(ctx, rawURL, dest); err != nil {
		return nil, fmt.Errorf("error downloading manifest %v: %w", rawURL, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, err
	}
	m, err := manifests.ParseManifest(manifests.CodecFor(rawURL), data)
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest %v: %w", rawURL, err)
	}
	return m, nil
}

var hostTriples = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/386":     "i686-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/386":   "i686-pc-windows-msvc",
	"freebsd/amd64": "x86_64-unknown-freebsd",
}

// HostTriple guesses the target triple of the running system.
func HostTriple() string {
	if t, ok := hostTriples[runtime.GOOS+"/"+runtime.GOARCH]; ok {
		return t
	}
	return fmt.Sprintf("%v-unknown-%v", runtime.GOARCH, runtime.GOOS)
}
