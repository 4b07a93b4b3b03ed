// Package datastore defines the narrow contract the lifecycle uses to talk
// to the host record-persistence layer, plus the in-memory and Postgres
// implementations.
package datastore

import (
	"context"
	"errors"

	"github.com/attachkit/attachkit/internal/model"
)

// ErrNotFound is returned when an attachment row does not exist.
var ErrNotFound = errors.New("attachment not found")

// Datastore persists attachment metadata rows. Identity is assigned on the
// first Commit of an entity.
type Datastore interface {
	// Commit inserts the row and assigns identity when the attachment has
	// none, otherwise updates it in place.
	Commit(ctx context.Context, a *model.Attachment) error
	// Get returns the row by identity.
	Get(ctx context.Context, id int64) (*model.Attachment, error)
	// FindOrCreateChild returns the existing thumbnail row for
	// parent+label, or a fresh uncommitted entity carrying the linkage when
	// none exists. It never creates duplicate rows for the same pair.
	FindOrCreateChild(ctx context.Context, parentID int64, label string) (*model.Attachment, error)
	// Children lists all thumbnail rows of a parent.
	Children(ctx context.Context, parentID int64) ([]*model.Attachment, error)
	// DeleteRow removes the row by identity.
	DeleteRow(ctx context.Context, id int64) error
}

// Hooks are optional callbacks the host registers around lifecycle points.
// A nil hook is simply not invoked.
type Hooks struct {
	// BeforeThumbnailSaved may mutate a derived thumbnail before its commit.
	BeforeThumbnailSaved func(ctx context.Context, child *model.Attachment) error
	// AfterAttachmentProcessed fires once an attachment reaches Persisted.
	AfterAttachmentProcessed func(ctx context.Context, a *model.Attachment) error
}
