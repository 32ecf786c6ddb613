package receipt

import (
	"fmt"
	"os"
	"path/filepath"
)

// PreviewStore holds the original uploaded bytes for the session. Each saved
// preview belongs to exactly one entry: it backs the UI's image preview and
// supplies the bytes for a retry, and it is released exactly once when the
// entry is discarded.
type PreviewStore interface {
	// Save stores a preview and returns the path used to retrieve it
	Save(filename string, data []byte) (string, error)

	// Get retrieves a preview by path
	Get(path string) ([]byte, error)

	// Delete releases a preview
	Delete(path string) error
}

// LocalPreviewStore implements PreviewStore on the local filesystem
type LocalPreviewStore struct {
	basePath string
}

// NewLocalPreviewStore creates a LocalPreviewStore rooted at basePath,
// creating the directory if needed
func NewLocalPreviewStore(basePath string) (*LocalPreviewStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating preview directory: %w", err)
	}
	return &LocalPreviewStore{basePath: basePath}, nil
}

// Save stores a preview file
func (l *LocalPreviewStore) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing preview: %w", err)
	}
	return filename, nil
}

// Get retrieves a preview file
func (l *LocalPreviewStore) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading preview: %w", err)
	}
	return data, nil
}

// Delete removes a preview file
func (l *LocalPreviewStore) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		return fmt.Errorf("deleting preview: %w", err)
	}
	return nil
}
