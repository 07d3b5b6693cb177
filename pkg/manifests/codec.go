package manifests

import (
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Codec converts manifests and configs to and from their text form.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type TOMLCodec struct{}

func (TOMLCodec) Marshal(v any) ([]byte, error) {
	return toml.Marshal(v)
}

func (TOMLCodec) Unmarshal(data []byte, v any) error {
	return toml.Unmarshal(data, v)
}

type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (YAMLCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// CodecFor picks a codec from a file name or URL suffix. TOML is the default.
func CodecFor(name string) Codec {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	default:
		return TOMLCodec{}
	}
}

func Stringify(c Codec, v any) (string, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
