// Package thumbnail derives the configured resize variants of an image
// attachment as child attachments linked to the parent.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/imaging"
	"github.com/attachkit/attachkit/internal/model"
)

// Error is a per-label derivation failure. One label failing never stops
// the remaining labels.
type Error struct {
	Label string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("thumbnail %q: %v", e.Label, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Saver commits a derived child attachment through the full lifecycle. The
// lifecycle manager implements it; the indirection keeps derivation free of
// orchestration concerns.
type Saver interface {
	SaveDerived(ctx context.Context, child *model.Attachment, data []byte) error
}

// Deriver produces thumbnail variants using the active engine.
type Deriver struct {
	engine imaging.Engine
	ds     datastore.Datastore
	hooks  datastore.Hooks
	specs  map[string]string
	strip  bool
	logger *log.Logger
}

// NewDeriver builds a deriver for one record type's thumbnail specs.
func NewDeriver(engine imaging.Engine, ds datastore.Datastore, hooks datastore.Hooks, specs map[string]string, strip bool, logger *log.Logger) *Deriver {
	return &Deriver{engine: engine, ds: ds, hooks: hooks, specs: specs, strip: strip, logger: logger}
}

// Applicable reports whether a has thumbnails to derive: it must be an
// image, must not itself be a thumbnail, and at least one spec must be
// configured.
func (d *Deriver) Applicable(a *model.Attachment) bool {
	return d != nil && d.engine != nil && len(d.specs) > 0 && a.IsImage() && !a.IsThumbnail()
}

// DeriveAll derives every configured label from the parent's staged bytes
// at sourcePath. Labels run concurrently; failures are collected per label
// and joined into the returned error after all labels finish.
func (d *Deriver) DeriveAll(ctx context.Context, parent *model.Attachment, sourcePath string, saver Saver) error {
	if !d.Applicable(parent) {
		return nil
	}
	if parent.ID == 0 {
		return fmt.Errorf("derive thumbnails: parent has no identity")
	}

	err := d.engine.WithImage(sourcePath, func(h imaging.Handle) error {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		var failed []error
		for label, spec := range d.specs {
			wg.Add(1)
			go func(label, spec string) {
				defer wg.Done()
				if err := d.deriveOne(ctx, parent, h, label, spec, saver); err != nil {
					mu.Lock()
					failed = append(failed, &Error{Label: label, Err: err})
					mu.Unlock()
					d.logger.Warn("thumbnail derivation failed",
						"parent", parent.ID, "label", label, "err", err)
				}
			}(label, spec)
		}
		wg.Wait()
		return errors.Join(failed...)
	})
	if err != nil && !isLabelError(err) {
		// The parent bytes themselves would not decode.
		return &Error{Label: "*", Err: err}
	}
	return err
}

func isLabelError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

func (d *Deriver) deriveOne(ctx context.Context, parent *model.Attachment, h imaging.Handle, label, spec string, saver Saver) error {
	geom, err := imaging.ParseGeometry(spec)
	if err != nil {
		return err
	}

	forcePNG := parent.ContentType == "image/gif" && !d.engine.SupportsGIF()
	target := parent.ContentType
	if forcePNG {
		target = "image/png"
	}

	data, err := d.engine.Resize(h, geom, imaging.ResizeOptions{
		TargetType: target,
		Strip:      d.strip,
	})
	if err != nil {
		return err
	}

	child, err := d.ds.FindOrCreateChild(ctx, parent.ID, label)
	if err != nil {
		return fmt.Errorf("find or create child: %w", err)
	}
	child.Filename = model.ThumbnailFilename(parent.Filename, label, forcePNG)
	child.ContentType = target

	if hook := d.hooks.BeforeThumbnailSaved; hook != nil {
		if err := hook(ctx, child); err != nil {
			return fmt.Errorf("before-thumbnail-saved hook: %w", err)
		}
	}
	return saver.SaveDerived(ctx, child, data)
}
