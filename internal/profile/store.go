package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the single profile document. Save always writes the whole
// document; there is no partial update.
// Implemented by FileStore and storage.Store.
type Store interface {
	Load() (*Profile, error)
	Save(p *Profile) error
}

// FileStore keeps the profile as a pretty-printed JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path. The parent directory is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the document.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file yields an empty profile; content
// that is not a JSON object yields an error wrapping ErrCorrupt.
func (s *FileStore) Load() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading profile %s: %w", s.path, err)
	}
	p, err := ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", s.path, err)
	}
	return p, nil
}

// Save writes the document to a temp file in the same directory and renames
// it over the target, so readers see either the old or the new document.
func (s *FileStore) Save(p *Profile) error {
	if p == nil {
		p = New()
	}
	data, err := p.Indent()
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting profile permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing profile: %w", err)
	}
	return nil
}
