package detector

import (
	"fmt"
	"os"

	"github.com/BDNK1/plugpack/internal/constants"
)

// Platform is a GOOS-style platform name
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformDarwin  Platform = "darwin"
	PlatformLinux   Platform = "linux"
)

// LibraryConvention captures how a platform names shared libraries
type LibraryConvention struct {
	Platform Platform
	// Prefix is prepended to the library name by the toolchain ("lib" or "")
	Prefix string
	// Extension without the leading dot
	Extension string
}

// LibraryExtensions are the native library extensions the archive picks up
var LibraryExtensions = []string{".so", ".dll", ".dylib"}

// ConventionFor returns the library convention for goos. Anything that is not
// windows or darwin is treated as a Unix-like platform producing .so files.
func ConventionFor(goos string) LibraryConvention {
	switch Platform(goos) {
	case PlatformWindows:
		return LibraryConvention{Platform: PlatformWindows, Prefix: "", Extension: "dll"}
	case PlatformDarwin:
		return LibraryConvention{Platform: PlatformDarwin, Prefix: "lib", Extension: "dylib"}
	default:
		return LibraryConvention{Platform: Platform(goos), Prefix: "lib", Extension: "so"}
	}
}

// SourceName is the file the toolchain produces for libName
func (c LibraryConvention) SourceName(libName string) string {
	return fmt.Sprintf("%s%s.%s", c.Prefix, libName, c.Extension)
}

// CanonicalName is the file name the library is delivered under, regardless
// of what the toolchain called it
func (c LibraryConvention) CanonicalName() string {
	return constants.LibraryPrefix + "." + c.Extension
}

// DirExists reports whether path exists and is a directory
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
