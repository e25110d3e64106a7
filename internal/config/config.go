package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/security"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config represents the optional plugpack.yaml structure. Every field has a
// default, so a project without the file behaves like the stock layout.
type Config struct {
	Metadata MetadataConfig `yaml:"metadata"`
	Backend  BackendConfig  `yaml:"backend"`
	Build    BuildConfig    `yaml:"build"`
	Output   OutputConfig   `yaml:"output"`
	Publish  PublishConfig  `yaml:"publish"`
	Serve    ServeConfig    `yaml:"serve"`
}

// MetadataConfig locates the plugin descriptor files
type MetadataConfig struct {
	File        string `yaml:"file" default:"plugin.json" validate:"required"`
	PackageFile string `yaml:"package_file" default:"package.json"`
}

// BackendConfig describes how the native backend is built
type BackendConfig struct {
	Dir        string   `yaml:"dir" default:"plugin-backend" validate:"required"`
	Manifest   string   `yaml:"manifest" default:"Cargo.toml" validate:"required"`
	Command    []string `yaml:"command" default:"[\"cargo\",\"build\",\"--release\"]" validate:"min=1,dive,required"`
	ReleaseDir string   `yaml:"release_dir" default:"target/release" validate:"required"`
}

// BuildConfig describes the build-output directory produced by the bundler
type BuildConfig struct {
	Dir    string `yaml:"dir" default:"dist" validate:"required"`
	Script string `yaml:"script" default:"plugin.js" validate:"required"`
}

// OutputConfig controls where archives go and how they are named
type OutputConfig struct {
	Dir string `yaml:"dir" default:"packages" validate:"required"`
	// Name is an expression over id, version and name
	Name string `yaml:"name"`
}

// PublishConfig configures the registry upload
type PublishConfig struct {
	Registry string        `yaml:"registry" default:"${PLUGPACK_REGISTRY:}" validate:"omitempty,url"`
	Token    string        `yaml:"token" default:"${PLUGPACK_TOKEN:}"`
	Timeout  time.Duration `yaml:"timeout" default:"60s" validate:"gte=1s"`
	Retries  int           `yaml:"retries" default:"0" validate:"gte=0,lte=10"`
}

// ServeConfig configures the package server
type ServeConfig struct {
	Addr string `yaml:"addr" default:":8787" validate:"required"`
}

// Paths holds absolute, boundary-checked locations derived from a Config
type Paths struct {
	ProjectDir   string
	MetadataFile string
	PackageFile  string
	BackendDir   string
	BuildDir     string
	OutputDir    string
}

// Load reads plugpack.yaml from projectDir, or the file at configPath when it
// is set. A missing default file is not an error; a missing explicit one is.
func Load(projectDir, configPath string) (*Config, error) {
	return load(projectDir, configPath, os.LookupEnv)
}

func load(projectDir, configPath string, lookup LookupFunc) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(projectDir, constants.ConfigFile)
	}

	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(configPath), err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config from %q: %w", configPath, err)
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if cfg.Output.Name == "" {
		cfg.Output.Name = constants.DefaultArchiveName
	}

	if err := cfg.expandEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv resolves ${VAR} references in the string settings that commonly
// come from the environment
func (c *Config) expandEnv(lookup LookupFunc) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"publish.registry", &c.Publish.Registry},
		{"publish.token", &c.Publish.Token},
		{"serve.addr", &c.Serve.Addr},
		{"build.dir", &c.Build.Dir},
		{"output.dir", &c.Output.Dir},
	}

	for _, f := range fields {
		v, err := ExpandValue(*f.ptr, lookup)
		if err != nil {
			return fmt.Errorf("config %s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}

// Validate checks the final config against its struct rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var msgs []string
			for _, fieldErr := range validationErrors {
				msgs = append(msgs, fmt.Sprintf(
					"field '%s' failed validation (rule: %s)",
					fieldErr.Namespace(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ResolvePaths anchors the configured locations at projectDir. Every path
// must stay inside the project.
func (c *Config) ResolvePaths(projectDir string) (*Paths, error) {
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory %q: %w", projectDir, err)
	}

	join := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(absProject, p)
	}

	paths := &Paths{
		ProjectDir:   absProject,
		MetadataFile: join(c.Metadata.File),
		PackageFile:  join(c.Metadata.PackageFile),
		BackendDir:   join(c.Backend.Dir),
		BuildDir:     join(c.Build.Dir),
		OutputDir:    join(c.Output.Dir),
	}

	if err := security.ValidatePathsWithinBoundary(absProject,
		paths.MetadataFile,
		paths.PackageFile,
		paths.BackendDir,
		paths.BuildDir,
	); err != nil {
		return nil, fmt.Errorf("invalid project path: %w", err)
	}

	return paths, nil
}
