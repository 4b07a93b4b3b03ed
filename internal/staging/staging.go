// Package staging manages the temporary byte sources created for an
// attachment between upload (or derivation) and persistence. All file I/O
// goes through an afero.Fs so tests can run against an in-memory filesystem.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/attachkit/attachkit/internal/model"
)

// Source is one staged byte source. Release frees whatever the source
// acquired when it was created; it must be safe to call once per source.
type Source interface {
	// Path returns a filesystem path holding the bytes. Sources created
	// from raw bytes materialize a temp file on first staging, so Path is
	// always available.
	Path() string
	Open() (io.ReadCloser, error)
	Release() error
}

// List is an ordered, most-recent-first collection of sources owned by a
// single attachment. It is not safe for concurrent use; one attachment's
// lifecycle runs sequentially.
type List struct {
	fs      afero.Fs
	sources []Source

	// Fallback, when set, is consulted by Current if the list is empty.
	// The lifecycle wires it to re-stage already-persisted bytes so that an
	// attachment can be re-processed without a fresh upload.
	Fallback func() (Source, error)
}

// NewList creates a staging list backed by fs.
func NewList(fs afero.Fs) *List {
	return &List{fs: fs}
}

// Stage pushes a source to the front of the list.
func (l *List) Stage(src Source) {
	l.sources = append([]Source{src}, l.sources...)
}

// StageBytes materializes data as a uniquely named temp file under dir and
// stages it.
func (l *List) StageBytes(dir, filename string, data []byte) (Source, error) {
	if err := l.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	name := TempName(filename)
	full := dir + "/" + name
	if err := afero.WriteFile(l.fs, full, data, 0o600); err != nil {
		return nil, fmt.Errorf("write staged bytes: %w", err)
	}
	src := &fileSource{fs: l.fs, path: full, owned: true}
	l.Stage(src)
	return src, nil
}

// StagePath stages an existing file without taking ownership of it; Release
// leaves the file in place.
func (l *List) StagePath(path string) Source {
	src := &fileSource{fs: l.fs, path: path}
	l.Stage(src)
	return src
}

// Current returns the most recently staged source. When the list is empty
// it falls back to re-staging persisted bytes, if a fallback is wired.
func (l *List) Current() (Source, error) {
	if len(l.sources) > 0 {
		return l.sources[0], nil
	}
	if l.Fallback == nil {
		return nil, fmt.Errorf("no staged source and no persisted bytes to restore")
	}
	src, err := l.Fallback()
	if err != nil {
		return nil, fmt.Errorf("restore persisted bytes: %w", err)
	}
	// A fallback may stage the source itself (StageBytes does); only stage
	// here when it did not.
	if len(l.sources) == 0 {
		l.Stage(src)
	}
	return src, nil
}

// ReadAll loads the full byte content of the current source. This is the
// only point where staged bytes are pulled into memory wholesale.
func (l *List) ReadAll() ([]byte, error) {
	src, err := l.Current()
	if err != nil {
		return nil, err
	}
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open staged source: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read staged source: %w", err)
	}
	return data, nil
}

// Len reports the number of staged sources.
func (l *List) Len() int {
	return len(l.sources)
}

// Clear releases every staged source and empties the list. All sources are
// attempted even if one release fails; failures are joined into one error.
func (l *List) Clear() error {
	var errs []error
	for _, src := range l.sources {
		if err := src.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	l.sources = nil
	return errors.Join(errs...)
}

// TempName builds a collision-resistant temp filename from the submission
// time, a random component, and the sanitized original name.
func TempName(filename string) string {
	return fmt.Sprintf("%d_%s_%s",
		time.Now().UnixNano(),
		uuid.NewString()[:8],
		model.SanitizeFilename(filename))
}

// fileSource points at a file on the staging filesystem. When owned, the
// file was created by the staging layer and is removed on Release.
type fileSource struct {
	fs    afero.Fs
	path  string
	owned bool
}

func (s *fileSource) Path() string { return s.path }

func (s *fileSource) Open() (io.ReadCloser, error) {
	return s.fs.Open(s.path)
}

func (s *fileSource) Release() error {
	if !s.owned {
		return nil
	}
	if err := s.fs.Remove(s.path); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove staged file %s: %w", s.path, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
