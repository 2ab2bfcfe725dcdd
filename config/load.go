package config

import (
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/fs"
)

// Load reads and validates the configuration at path. The decoder is
// picked from the file extension: .cue files are evaluated as CUE,
// everything else is parsed as YAML.
func Load(fsys fs.Filesystem, path string) (*Config, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "read configuration %s", path)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		err = decodeCUE(data, &cfg)
	} else {
		err = decodeYAML(data, &cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "decode configuration %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault probes the default file names under dir and loads the
// first one that exists.
func LoadDefault(fsys fs.Filesystem, dir string) (*Config, error) {
	for _, name := range DefaultFiles {
		path := filepath.Join(dir, name)
		exists, err := fsys.Exists(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "probe configuration %s", path)
		}
		if exists {
			return Load(fsys, path)
		}
	}
	return nil, errors.Newf(errors.CodeInvalidConfig,
		"no configuration found in %s (tried %s)", dir, strings.Join(DefaultFiles, ", "))
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func decodeCUE(data []byte, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data)
	if err := v.Err(); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return v.Decode(cfg)
}
