package manifests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/alembic/pkg/components"
)

const linux = "x86_64-unknown-linux-gnu"

var tomlManifest = `
manifest-version = "2"
date = "2016-01-20"

[pkg.rust]
version = "1.7.0-nightly"

[pkg.rust.target.x86_64-unknown-linux-gnu]
available = true
url = "https://static.example.org/dist/rust-nightly-x86_64-unknown-linux-gnu.tar.gz"
hash = "0123"

[[pkg.rust.target.x86_64-unknown-linux-gnu.components]]
pkg = "rustc"
target = "x86_64-unknown-linux-gnu"

[[pkg.rust.target.x86_64-unknown-linux-gnu.extensions]]
pkg = "rust-docs"
target = "x86_64-unknown-linux-gnu"

[pkg.rustc.target.x86_64-unknown-linux-gnu]
available = true
url = "https://static.example.org/dist/rustc-nightly-x86_64-unknown-linux-gnu.tar.gz"
hash = "4567"

[pkg.rust-docs.target.x86_64-unknown-linux-gnu]
available = false
`

var yamlManifest = `
manifest-version: "2"
date: "2016-01-20"
pkg:
  rust:
    version: 1.7.0-nightly
    target:
      x86_64-unknown-linux-gnu:
        available: true
        url: https://static.example.org/dist/rust-nightly-x86_64-unknown-linux-gnu.tar.gz
        hash: "0123"
        components:
          - pkg: rustc
            target: x86_64-unknown-linux-gnu
        extensions:
          - pkg: rust-docs
            target: x86_64-unknown-linux-gnu
  rustc:
    target:
      x86_64-unknown-linux-gnu:
        available: true
        url: https://static.example.org/dist/rustc-nightly-x86_64-unknown-linux-gnu.tar.gz
        hash: "4567"
  rust-docs:
    target:
      x86_64-unknown-linux-gnu:
        available: false
`

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		input string
	}{
		{name: "toml", codec: TOMLCodec{}, input: tomlManifest},
		{name: "yaml", codec: YAMLCodec{}, input: yamlManifest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest(tt.codec, []byte(tt.input))
			require.NoError(t, err)
			rust, err := m.GetPackage("rust")
			require.NoError(t, err)
			assert.Equal(t, "1.7.0-nightly", rust.Version)
			tp, err := rust.GetTarget(linux)
			require.NoError(t, err)
			assert.Equal(t, []components.Component{components.New("rustc", linux)}, tp.Components)
			assert.True(t, tp.IsExtension(components.New("rust-docs", linux)))
			assert.False(t, tp.IsExtension(components.New("rustc", linux)))

			rustc, err := m.Resolve(components.New("rustc", linux))
			require.NoError(t, err)
			assert.Equal(t, "4567", rustc.Hash)

			_, err = m.Resolve(components.New("rust-docs", linux))
			assert.ErrorIs(t, err, ErrTargetNotFound)
			_, err = m.Resolve(components.New("cargo", linux))
			assert.ErrorIs(t, err, ErrPackageNotFound)
		})
	}
}

func TestManifest_Equal(t *testing.T) {
	a, err := ParseManifest(TOMLCodec{}, []byte(tomlManifest))
	require.NoError(t, err)
	b, err := ParseManifest(YAMLCodec{}, []byte(yamlManifest))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	out, err := Stringify(TOMLCodec{}, a)
	require.NoError(t, err)
	c, err := ParseManifest(TOMLCodec{}, []byte(out))
	require.NoError(t, err)
	assert.True(t, a.Equal(c))

	c.Date = "2016-01-21"
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: tomlManifest},
		{name: "wrong version", input: `manifest-version = "1"`, wantErr: true},
		{
			name: "available without hash",
			input: `
manifest-version = "2"
[pkg.rust.target.x86_64-unknown-linux-gnu]
available = true
url = "https://static.example.org/rust.tar.gz"
`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(TOMLCodec{}, []byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg := NewConfig(components.New("rustc", linux), components.New("rust-docs", linux))
	out, err := Stringify(TOMLCodec{}, cfg)
	require.NoError(t, err)
	parsed, err := ParseConfig(TOMLCodec{}, []byte(out))
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
	assert.True(t, parsed.Set().Contains(components.New("rust-docs", linux)))

	_, err = ParseConfig(TOMLCodec{}, []byte(`config-version = "7"`))
	assert.Error(t, err)
}

func TestCodecFor(t *testing.T) {
	assert.IsType(t, YAMLCodec{}, CodecFor("channel-rust-nightly.yaml"))
	assert.IsType(t, YAMLCodec{}, CodecFor("https://example.org/channel.YML"))
	assert.IsType(t, TOMLCodec{}, CodecFor("channel-rust-nightly.toml"))
	assert.IsType(t, TOMLCodec{}, CodecFor("multirust-config"))
}
