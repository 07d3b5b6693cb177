package dist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/alembic/internal/download"
	"primamateria.systems/alembic/internal/temp"
)

func TestParseToolchainDesc(t *testing.T) {
	tests := []struct {
		input   string
		want    ToolchainDesc
		wantErr bool
	}{
		{input: "nightly", want: ToolchainDesc{Channel: "nightly"}},
		{input: "nightly-2016-03-01", want: ToolchainDesc{Channel: "nightly", Date: "2016-03-01"}},
		{input: "beta-x86_64-unknown-linux-gnu", want: ToolchainDesc{Channel: "beta", Target: "x86_64-unknown-linux-gnu"}},
		{input: "stable-2016-03-01-x86_64-apple-darwin", want: ToolchainDesc{Channel: "stable", Date: "2016-03-01", Target: "x86_64-apple-darwin"}},
		{input: "1.8.0", want: ToolchainDesc{Channel: "1.8.0"}},
		{input: "1.8.0-i686-pc-windows-gnu", want: ToolchainDesc{Channel: "1.8.0", Target: "i686-pc-windows-gnu"}},
		{input: "weekly", wantErr: true},
		{input: "1.8", wantErr: true},
		{input: "nightly-2016-13-45", wantErr: true},
		{input: "nightly-linux", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseToolchainDesc(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToolchain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestManifestURL(t *testing.T) {
	tests := []struct {
		desc ToolchainDesc
		want string
	}{
		{ToolchainDesc{Channel: "nightly"}, "https://static.rust-lang.org/dist/channel-rust-nightly.toml"},
		{ToolchainDesc{Channel: "nightly", Date: "2016-03-01"}, "https://static.rust-lang.org/dist/2016-03-01/channel-rust-nightly.toml"},
		{ToolchainDesc{Channel: "stable", Target: "x86_64-apple-darwin"}, "https://static.rust-lang.org/dist/channel-rust-stable.toml"},
	}
	for _, tt := range tests {
		t.Run(tt.desc.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desc.ManifestURL(DefaultDistRoot+"/"))
		})
	}
}

func TestWithDefaultTarget(t *testing.T) {
	d := ToolchainDesc{Channel: "nightly"}.WithDefaultTarget("x86_64-unknown-linux-gnu")
	assert.Equal(t, "x86_64-unknown-linux-gnu", d.Target)
	d = ToolchainDesc{Channel: "nightly", Target: "i686-apple-darwin"}.WithDefaultTarget("x86_64-unknown-linux-gnu")
	assert.Equal(t, "i686-apple-darwin", d.Target)
	assert.NotEmpty(t, HostTriple())
}

func TestFetchManifest(t *testing.T) {
	root := t.TempDir()
	desc := ToolchainDesc{Channel: "nightly", Date: "2016-03-01"}
	url := desc.ManifestURL("file://" + root)
	path := filepath.Join(root, "dist", "2016-03-01", "channel-rust-nightly.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
manifest-version = "2"
date = "2016-03-01"

[pkg.rust]
version = "1.9.0-nightly"

[pkg.rust.target.x86_64-unknown-linux-gnu]
available = true
url = "https://static.rust-lang.org/dist/2016-03-01/rust-nightly-x86_64-unknown-linux-gnu.tar.gz"
hash = "abcdef"

[[pkg.rust.target.x86_64-unknown-linux-gnu.components]]
pkg = "rustc"
target = "x86_64-unknown-linux-gnu"
`), 0o644))

	tmp, err := temp.NewArea(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = tmp.Close() }()

	client := download.NewClient(download.Config{RetryDelay: time.Millisecond}, nil)
	m, err := FetchManifest(context.Background(), client, url, tmp)
	require.NoError(t, err)
	assert.Equal(t, "2016-03-01", m.Date)
	pkg, err := m.GetPackage("rust")
	require.NoError(t, err)
	tp, err := pkg.GetTarget("x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	require.Len(t, tp.Components, 1)
	assert.Equal(t, "rustc", tp.Components[0].Pkg)

	_, err = FetchManifest(context.Background(), client, ToolchainDesc{Channel: "beta"}.ManifestURL("file://"+root), tmp)
	assert.Error(t, err)
}
