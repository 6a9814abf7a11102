package meta

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileName is the name of the record file inside a published directory.
const FileName = "meta"

var (
	// ErrExists is returned by Publish when the target directory is already present.
	ErrExists = errors.New("record already exists")

	// ErrNotExist is returned when a record directory or file is absent.
	ErrNotExist = errors.New("record does not exist")
)

// Publish creates dir containing a single meta file with data. The record is
// staged in a private sibling directory and renamed onto dir, so other
// processes either see no directory or a directory with a complete meta file.
// Returns ErrExists if dir is already present.
func Publish(dir string, data []byte) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	success := false
	defer func() {
		if !success {
			os.RemoveAll(staging)
		}
	}()

	if err := writeSynced(filepath.Join(staging, FileName), data, 0644); err != nil {
		return err
	}

	// rename(2) refuses to replace a non-empty directory, and a published
	// directory always holds its meta file.
	if err := os.Rename(staging, dir); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(dir), err)
	}

	success = true
	return nil
}

// ReadDir returns the contents of dir's meta file, or ErrNotExist.
func ReadDir(dir string) ([]byte, error) {
	return ReadFile(filepath.Join(dir, FileName))
}

// ReadFile returns the contents of path, or ErrNotExist.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Tombstone is a record directory that has been moved out of its published
// location. It can be inspected, then either buried or restored.
type Tombstone struct {
	path   string
	target string
}

// Retire moves dir to a private tombstone name in one step. After Retire
// returns, no other process can observe dir. Returns ErrNotExist if dir is
// absent.
func Retire(dir string) (*Tombstone, error) {
	tomb := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".retired-"+uuid.NewString())
	if err := os.Rename(dir, tomb); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to retire %s: %w", filepath.Base(dir), err)
	}
	return &Tombstone{path: tomb, target: dir}, nil
}

// Path returns the tombstone's current location.
func (t *Tombstone) Path() string {
	return t.path
}

// Data returns the meta file held by the tombstone.
func (t *Tombstone) Data() ([]byte, error) {
	return ReadDir(t.path)
}

// Restore moves the tombstone back to its original location. Returns
// ErrExists if another record was published there in the meantime.
func (t *Tombstone) Restore() error {
	if err := os.Rename(t.path, t.target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("failed to restore %s: %w", filepath.Base(t.target), err)
	}
	return nil
}

// Bury deletes the tombstone.
func (t *Tombstone) Bury() error {
	if err := os.RemoveAll(t.path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", t.path, err)
	}
	return nil
}

// WriteFileAtomic writes data to a file atomically by writing to a temporary
// file first, then renaming. This ensures the target file is never in a
// partially-written state.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// writeSynced creates path exclusively and flushes data to disk.
func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
