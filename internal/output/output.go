package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/manash/uigen/internal/security"
	"github.com/manash/uigen/pkg/models"
)

// Writer stores selected component code under Dir.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer rooted at dir, or the working directory when dir is empty.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{Dir: dir}
}

// Write saves sel.Code to path, relative to Dir. An empty path derives the filename from
// the component name and the framework's extension. The written path is returned.
func (w *Writer) Write(sel *models.SelectionResult, framework models.Framework, path string) (string, error) {
	if sel == nil || sel.Code == "" {
		return "", models.ErrEmptyCode
	}

	if path == "" {
		path = DefaultFilename(sel, framework)
	}

	if err := security.ValidateOutputPath(path); err != nil {
		return "", fmt.Errorf("invalid output path %q: %w", path, err)
	}

	full := filepath.Join(w.Dir, path)
	if err := ensureDir(full); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(full, []byte(sel.Code), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return full, nil
}

// DefaultFilename derives a file name from the component name, falling back to
// ComponentN for unnamed variations.
func DefaultFilename(sel *models.SelectionResult, framework models.Framework) string {
	name := sel.Name
	if name == "" {
		name = fmt.Sprintf("Component%d", sel.VariationIndex+1)
	}
	return security.ComponentFilename(name, framework.FileExtension())
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
