package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/klauspost/compress/zip"
)

// Entry is one file inside a plugin archive
type Entry struct {
	Name           string `json:"name"`
	Size           uint64 `json:"size"`
	CompressedSize uint64 `json:"compressed_size"`
}

// Contents summarizes a plugin archive
type Contents struct {
	Path     string               `json:"path"`
	Root     string               `json:"root"`
	Entries  []Entry              `json:"entries"`
	Metadata *metadata.Descriptor `json:"metadata"`
}

// Inspect opens an archive and decodes its embedded metadata.json
func Inspect(archivePath string) (*Contents, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	defer r.Close()

	contents := &Contents{Path: archivePath}

	for _, f := range r.File {
		contents.Entries = append(contents.Entries, Entry{
			Name:           f.Name,
			Size:           f.UncompressedSize64,
			CompressedSize: f.CompressedSize64,
		})

		root, rest, found := strings.Cut(f.Name, "/")
		if !found || rest != constants.MetadataEntryName {
			continue
		}

		desc, err := readDescriptor(f)
		if err != nil {
			return nil, fmt.Errorf("archive %q: %w", archivePath, err)
		}
		contents.Root = root
		contents.Metadata = desc
	}

	if contents.Metadata == nil {
		return nil, fmt.Errorf("archive %q has no %s", archivePath, path.Join("<id>", constants.MetadataEntryName))
	}

	return contents, nil
}

func readDescriptor(f *zip.File) (*metadata.Descriptor, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}

	var desc metadata.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}
	return &desc, nil
}
