package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Paths are the files a project owns inside its location.
type Paths struct {
	Metadata string
	Graph    string
	NoC      string
	Lock     string
}

// PathsFor derives a project's file paths from its location and name.
func PathsFor(location, name string) Paths {
	return Paths{
		Metadata: filepath.Join(location, name+"_metadata.json"),
		Graph:    filepath.Join(location, name+"_graph_object_serialized.json"),
		NoC:      filepath.Join(location, name+"_NoC_description"),
		Lock:     filepath.Join(location, "."+name+"_metadata.lock"),
	}
}

// Store reads and writes sidecar documents on the local file system.
type Store struct {
	perm fs.FileMode
}

// NewStore returns a Store that creates sidecars with mode 0600.
func NewStore() *Store {
	return &Store{perm: 0o600}
}

// Load reads the sidecar at path.
func (s *Store) Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save replaces the sidecar at path. Readers observe either the previous
// document or the new one, never a partial write.
func (s *Store) Save(path string, m *Metadata) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return writeAtomic(path, data, s.perm)
}

// LoadProject loads the sidecar of the (location, name) project and checks
// the record belongs to it.
func (s *Store) LoadProject(location, name string) (*Metadata, error) {
	m, err := s.Load(PathsFor(location, name).Metadata)
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, fmt.Errorf("%w: sidecar for %q holds %q", ErrNameMismatch, name, m.Name)
	}
	return m, nil
}

// SaveProject writes m to the sidecar its name selects in location.
func (s *Store) SaveProject(location string, m *Metadata) error {
	return s.Save(PathsFor(location, m.Name).Metadata, m)
}

// Exists reports whether the project's sidecar is present.
func (s *Store) Exists(location, name string) (bool, error) {
	_, err := os.Stat(PathsFor(location, name).Metadata)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat metadata: %w", err)
	}
}

// writeAtomic writes data to a temp file next to path, syncs it and renames
// it over path, then syncs the directory so the rename is durable.
func writeAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set metadata permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync metadata: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metadata: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename metadata: %w", err)
	}

	return syncDir(dir)
}
