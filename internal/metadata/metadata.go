package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMissingMetadata is returned when the descriptor is absent or unreadable
var ErrMissingMetadata = errors.New("plugin metadata missing")

var validate = validator.New()

// PluginMetadata is the canonical descriptor of a plugin, loaded once per run
type PluginMetadata struct {
	ID           string   `json:"id" validate:"required"`
	Name         string   `json:"name"`
	Version      string   `json:"version" validate:"required"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	Path         string   `json:"path" default:"plugin"`
	HasBackend   bool     `json:"hasBackend"`
	BackendEntry string   `json:"backendEntry"`
	Icon         string   `json:"icon"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags"`
}

// Descriptor is the normalized metadata.json document shipped in the archive
type Descriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Path         string   `json:"path"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	BackendEntry string   `json:"backend_entry"`
	Icon         string   `json:"icon,omitempty"`
	Category     string   `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Descriptor converts the metadata to its shipped form
func (m *PluginMetadata) Descriptor() Descriptor {
	return Descriptor{
		ID:           m.ID,
		Name:         m.Name,
		Version:      m.Version,
		Path:         m.Path,
		Description:  m.Description,
		Author:       m.Author,
		BackendEntry: m.BackendEntry,
		Icon:         m.Icon,
		Category:     m.Category,
		Tags:         append([]string(nil), m.Tags...),
	}
}

// MarshalDescriptor renders metadata.json with two-space indentation
func (m *PluginMetadata) MarshalDescriptor() ([]byte, error) {
	data, err := json.MarshalIndent(m.Descriptor(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata descriptor: %w", err)
	}
	return data, nil
}

// WriteDescriptor writes metadata.json into dir and returns its path
func (m *PluginMetadata) WriteDescriptor(dir string) (string, error) {
	data, err := m.MarshalDescriptor()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "metadata.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata descriptor to %q: %w", path, err)
	}
	return path, nil
}

// Validate checks the fields archive naming depends on
func (m *PluginMetadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var missing []string
			for _, fieldErr := range validationErrors {
				missing = append(missing, strings.ToLower(fieldErr.Field()))
			}
			return fmt.Errorf("plugin metadata is missing required fields: %s", strings.Join(missing, ", "))
		}
		return fmt.Errorf("plugin metadata validation failed: %w", err)
	}
	return nil
}
