package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores artifacts as files in a single directory.
type Local struct {
	dir string
}

// NewLocal returns a sink rooted at dir. The directory must already exist.
func NewLocal(dir string) (*Local, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat output dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output path %q is not a directory", dir)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the sink's directory.
func (l *Local) Dir() string {
	return l.dir
}

// Create opens a temporary file next to name. Close renames it onto name,
// so concurrent writers of one name never interleave and the last Close
// wins; Abort removes only the temporary file.
func (l *Local) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(l.dir, "."+name+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return &localWriter{File: f, target: filepath.Join(l.dir, name)}, nil
}

// localWriter is an in-progress file that becomes visible on Close.
type localWriter struct {
	*os.File
	target string
}

// Close commits the file under its final name.
func (w *localWriter) Close() error {
	tmp := w.File.Name()
	if err := w.File.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", filepath.Base(w.target), err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", filepath.Base(w.target), err)
	}
	if err := os.Rename(tmp, w.target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", filepath.Base(w.target), err)
	}
	return nil
}

// Abort drops the temporary file; an existing file under the final name
// is left untouched.
func (w *localWriter) Abort(cause error) error {
	tmp := w.File.Name()
	w.File.Close()
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", filepath.Base(w.target), err)
	}
	return nil
}

// Remove deletes a file.
func (l *Local) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Location returns the file path of name.
func (l *Local) Location(name string) string {
	return filepath.Join(l.dir, name)
}
