package backend

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/pelletier/go-toml/v2"
)

// ErrManifestMissing is returned when the backend dir has no build manifest
var ErrManifestMissing = errors.New("backend build manifest missing")

// CargoManifest is the subset of Cargo.toml the compiler cares about
type CargoManifest struct {
	Package *CargoPackage `toml:"package"`
	Lib     *CargoLib     `toml:"lib"`
}

type CargoPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type CargoLib struct {
	Name      string   `toml:"name"`
	CrateType []string `toml:"crate-type"`
}

// LoadManifest parses the build manifest at path
func LoadManifest(path string) (*CargoManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrManifestMissing, path)
		}
		return nil, fmt.Errorf("failed to read build manifest %q: %w", path, err)
	}

	var manifest CargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse build manifest %q: %w", path, err)
	}

	return &manifest, nil
}

// LibraryName is the [lib] name, or plugin_backend when none is declared
func (m *CargoManifest) LibraryName() string {
	if m.Lib != nil && m.Lib.Name != "" {
		return m.Lib.Name
	}
	return constants.DefaultLibraryName
}

// BuildsSharedLibrary reports whether the declared crate types can produce a
// loadable library. An unset crate-type is given the benefit of the doubt.
func (m *CargoManifest) BuildsSharedLibrary() bool {
	if m.Lib == nil || len(m.Lib.CrateType) == 0 {
		return true
	}
	return slices.Contains(m.Lib.CrateType, "cdylib") || slices.Contains(m.Lib.CrateType, "dylib")
}
