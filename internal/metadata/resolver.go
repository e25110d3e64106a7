package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/security"
	"github.com/Jeffail/gabs/v2"
	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
)

// Options locates the descriptor files. Relative paths are resolved against
// the project root; empty values fall back to plugin.json and package.json.
type Options struct {
	MetadataFile string
	PackageFile  string
}

// Resolve loads the plugin descriptor from projectRoot and normalizes it.
// It reads exactly one descriptor file, never searches, and returns a fresh
// value on every call.
func Resolve(projectRoot string, opts Options) (*PluginMetadata, error) {
	metadataPath := resolvePath(projectRoot, opts.MetadataFile, constants.MetadataFile)
	packagePath := resolvePath(projectRoot, opts.PackageFile, constants.PackageFile)

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %w", ErrMissingMetadata, metadataPath, err)
	}

	// numbers stay json.Number so a bare 1.10 version keeps its literal text
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrMissingMetadata, filepath.Base(metadataPath), err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s does not contain a JSON object", ErrMissingMetadata, filepath.Base(metadataPath))
	}

	meta, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(metadataPath), err)
	}

	// backend_entry wins; the camel-case field only counts for plugins that
	// declare a backend
	if entry, ok := raw["backend_entry"].(string); ok && entry != "" {
		meta.BackendEntry = entry
	} else if !meta.HasBackend {
		meta.BackendEntry = ""
	}

	if meta.ID == "" {
		name, err := packageName(packagePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s has no id and the fallback failed: %w",
				ErrMissingMetadata, filepath.Base(metadataPath), err)
		}
		meta.ID = name
	}

	if err := security.ValidateFileName(meta.ID); err != nil {
		return nil, fmt.Errorf("plugin id %q cannot name the archive root: %w", meta.ID, err)
	}

	if err := defaults.Set(meta); err != nil {
		return nil, fmt.Errorf("failed to apply metadata defaults: %w", err)
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return meta, nil
}

// decode maps the raw descriptor onto PluginMetadata. Weak typing lets
// hand-edited files use "true" for booleans or a bare number for the version.
func decode(raw map[string]any) (*PluginMetadata, error) {
	var meta PluginMetadata

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &meta, nil
}

// packageName reads the project-level name used as the id fallback
func packageName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", path, err)
	}

	parsed, err := gabs.ParseJSON(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	name, ok := parsed.Path("name").Data().(string)
	if !ok || name == "" {
		return "", fmt.Errorf("%s has no name field", filepath.Base(path))
	}

	return name, nil
}

func resolvePath(root, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
