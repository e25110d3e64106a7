package constants

// Descriptor and config file names, relative to the project root.
// Directory defaults live in the config struct tags.
const (
	// MetadataFile is the plugin descriptor read by the metadata resolver
	MetadataFile = "plugin.json"

	// PackageFile supplies the id fallback when plugin.json has none
	PackageFile = "package.json"

	// ConfigFile is the optional pipeline configuration
	ConfigFile = "plugpack.yaml"
)

// Archive layout
const (
	// ScriptName is the canonical name of the bundled script inside the archive
	ScriptName = "plugin.js"

	// MetadataEntryName is the normalized descriptor's name inside the archive
	MetadataEntryName = "metadata.json"

	// LibraryPrefix is the canonical prefix of native libraries in the build dir
	LibraryPrefix = "plugin"

	// DefaultArchiveName builds "<id>-v<version>.zip"
	DefaultArchiveName = `id + "-v" + version + ".zip"`
)

// Backend toolchain defaults
const (
	// DefaultLibraryName is used when the build manifest declares no [lib] name
	DefaultLibraryName = "plugin_backend"

	// BuildManifest is the toolchain manifest inside the backend dir
	BuildManifest = "Cargo.toml"

	// ReleaseDir is where the toolchain leaves release artifacts
	ReleaseDir = "target/release"
)

// DefaultToolchainCommand is the native build invocation
var DefaultToolchainCommand = []string{"cargo", "build", "--release"}
