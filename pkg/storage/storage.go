// Package storage provides the output sinks of a run: a local directory
// and a MinIO/S3 bucket prefix. Both expose the same streaming interface
// so the exporter and the attachment downloader never know where their
// bytes end up.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidName is returned for artifact names that are empty or contain
// path separators.
var ErrInvalidName = errors.New("invalid artifact name")

// Sink is a run-scoped destination for output artifacts.
type Sink interface {
	// Create opens name for writing, truncating any previous artifact of
	// the same name. The artifact is complete once Close returns nil.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Remove deletes name. Removing a missing artifact is not an error.
	Remove(ctx context.Context, name string) error

	// Location describes where name is stored, for logging.
	Location(name string) string
}

// Aborter is implemented by writers that can discard a partially written
// artifact instead of committing it.
type Aborter interface {
	Abort(cause error) error
}

// Discard drops a partially written artifact. Writers that support Abort
// never commit; others are closed and the artifact removed.
func Discard(ctx context.Context, sink Sink, name string, w io.WriteCloser, cause error) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort(cause)
	}
	closeErr := w.Close()
	if err := sink.Remove(ctx, name); err != nil {
		return err
	}
	return closeErr
}

// ValidateName rejects names a sink must not accept.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
