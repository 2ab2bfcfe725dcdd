// Package config loads and validates the release pipeline
// configuration. Configuration lives next to the project as relay.yaml
// or relay.cue; both decode into the same Config and go through the
// same validation.
package config

import (
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/publish/objectstore"
)

// SchemaVersion is the current configuration schema version. User
// configurations declare their relayVersion to signal compatibility.
const SchemaVersion = "0.1.0"

// Default file names probed by LoadDefault, in order.
var DefaultFiles = []string{"relay.yaml", "relay.yml", "relay.cue"}

// Config is the full pipeline configuration.
type Config struct {
	// RelayVersion is the schema version the file was written against.
	RelayVersion string `yaml:"relayVersion" json:"relayVersion"`

	// Project describes the package being released.
	Project Project `yaml:"project" json:"project"`

	// Python configures the interpreter and dependency manager.
	Python Python `yaml:"python" json:"python"`

	// Cache configures environment caching.
	Cache Cache `yaml:"cache" json:"cache"`

	// Registry configures the package registry uploads.
	Registry Registry `yaml:"registry" json:"registry"`

	// Mirrors configures optional secondary publish targets.
	Mirrors Mirrors `yaml:"mirrors" json:"mirrors"`

	// Notes toggles release note generation.
	Notes Notes `yaml:"notes" json:"notes"`
}

// Project identifies the package under release.
type Project struct {
	// Name is the package name as known to the registry.
	Name string `yaml:"name" json:"name"`

	// WorkDir is the project root, relative to the repository root.
	WorkDir string `yaml:"workdir" json:"workdir"`
}

// Python configures the build environment.
type Python struct {
	// Version pins the interpreter, e.g. "3.12". Empty uses the
	// manager's default.
	Version string `yaml:"version" json:"version"`

	// Manager is the dependency manager executable.
	Manager string `yaml:"manager" json:"manager"`

	// Lockfile is the dependency lockfile relative to the workdir.
	Lockfile string `yaml:"lockfile" json:"lockfile"`

	// VenvDir is the virtual environment directory relative to the
	// workdir.
	VenvDir string `yaml:"venv" json:"venv"`
}

// Cache configures environment caching.
type Cache struct {
	// Enabled turns caching on. Cache failures never fail a run.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Dir overrides the cache directory. Empty uses the user cache
	// home.
	Dir string `yaml:"dir" json:"dir"`
}

// Registry configures the upload target and trusted publishing.
type Registry struct {
	// UploadURL is the registry's file upload endpoint.
	UploadURL string `yaml:"uploadURL" json:"uploadURL"`

	// MintURL is the registry's trusted publishing token mint endpoint.
	MintURL string `yaml:"mintURL" json:"mintURL"`

	// Issuer is the OIDC issuer the identity token is checked against
	// before the exchange. Empty skips the local check and leaves
	// validation to the registry.
	Issuer string `yaml:"issuer" json:"issuer"`

	// Audience is the identity token audience. Empty uses the default.
	Audience string `yaml:"audience" json:"audience"`
}

// Mirrors configures optional secondary targets.
type Mirrors struct {
	// OCI pushes a release bundle to an OCI registry when Reference is
	// set.
	OCI OCIMirror `yaml:"oci" json:"oci"`

	// ObjectStore mirrors artifacts to S3-compatible storage when an
	// endpoint is set.
	ObjectStore objectstore.Config `yaml:"objectstore" json:"objectstore"`
}

// OCIMirror configures the OCI bundle target.
type OCIMirror struct {
	// Reference is the repository reference without a tag, e.g.
	// "ghcr.io/org/releases".
	Reference string `yaml:"reference" json:"reference"`

	// PlainHTTP connects over HTTP. Local registries only.
	PlainHTTP bool `yaml:"plainHTTP" json:"plainHTTP"`
}

// Notes configures release note generation.
type Notes struct {
	// Enabled turns note generation on.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Validate checks the configuration for required fields and schema
// compatibility.
func (c *Config) Validate() error {
	if c.RelayVersion != "" {
		ok, err := IsCompatible(c.RelayVersion)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidConfig, "check schema compatibility")
		}
		if !ok {
			return errors.Newf(errors.CodeInvalidConfig,
				"configuration schema %s is not compatible with %s", c.RelayVersion, SchemaVersion)
		}
	}
	if c.Project.Name == "" {
		return errors.New(errors.CodeInvalidConfig, "project.name is required")
	}
	if c.Registry.UploadURL == "" {
		return errors.New(errors.CodeInvalidConfig, "registry.uploadURL is required")
	}
	if c.Registry.MintURL == "" {
		return errors.New(errors.CodeInvalidConfig, "registry.mintURL is required")
	}
	if c.Mirrors.ObjectStore.Endpoint != "" {
		if err := c.Mirrors.ObjectStore.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults fills unset fields with working defaults.
func (c *Config) applyDefaults() {
	if c.Project.WorkDir == "" {
		c.Project.WorkDir = "."
	}
	if c.Python.Manager == "" {
		c.Python.Manager = "uv"
	}
	if c.Python.Lockfile == "" {
		c.Python.Lockfile = "uv.lock"
	}
	if c.Python.VenvDir == "" {
		c.Python.VenvDir = ".venv"
	}
}
