package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/google/uuid"
)

// Workspace is a scratch directory for files generated during one packaging
// run, such as the normalized metadata.json
type Workspace struct {
	Path string
	UUID string
}

// Create makes a new workspace under baseDir. An empty baseDir uses the
// system temp dir.
func Create(baseDir string) (*Workspace, error) {
	// First 8 chars are enough to keep concurrent runs apart
	runID := uuid.New().String()[:8]

	if baseDir == "" {
		baseDir = os.TempDir()
	}
	workspacePath := filepath.Join(baseDir, fmt.Sprintf("plugpack-%s", runID))

	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory at %q: %w", workspacePath, err)
	}

	return &Workspace{
		Path: workspacePath,
		UUID: runID,
	}, nil
}

// StageMetadata writes the normalized descriptor into the workspace and
// returns its path
func (w *Workspace) StageMetadata(meta *metadata.PluginMetadata) (string, error) {
	return meta.WriteDescriptor(w.Path)
}

// Cleanup removes the workspace directory
func (w *Workspace) Cleanup() error {
	if w.Path == "" {
		return nil
	}

	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("failed to cleanup workspace at %q: %w", w.Path, err)
	}

	return nil
}
