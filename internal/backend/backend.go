// Package backend is the pluggable byte-storage capability. Concrete
// backends (filesystem, S3-compatible object store, database blob) are
// registered by name and resolved once at configuration time.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/attachkit/attachkit/internal/config"
)

// Backend durably stores attachment bytes by key. Implementations must be
// safe for concurrent use; keys are derived deterministically from
// attachment identity so re-saving overwrites the same object.
type Backend interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes the bytes at key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error
	// PublicLocator returns a URL or path a caller can hand out for key.
	PublicLocator(ctx context.Context, key string) (string, error)
}

// OpError describes a failed backend operation.
type OpError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s backend: %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Factory builds a backend from resolved configuration.
type Factory func(ctx context.Context, cfg *config.Config) (Backend, error)

var registry = map[string]Factory{}

// Register adds a named backend factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// New resolves a backend kind. Unknown kinds fail immediately.
func New(ctx context.Context, kind string, cfg *config.Config) (Backend, error) {
	factory, ok := registry[kind]
	if !ok {
		names := make([]string, 0, len(registry))
		for name := range registry {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown storage backend %q (have %s)", kind, strings.Join(names, ", "))
	}
	b, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage backend %q: %w", kind, err)
	}
	return b, nil
}
