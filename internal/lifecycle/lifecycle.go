// Package lifecycle sequences the attachment state machine: staging,
// validation, commit, thumbnail derivation, persistence and cascade
// deletion.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/attachkit/attachkit/internal/backend"
	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/imaging"
	"github.com/attachkit/attachkit/internal/model"
	"github.com/attachkit/attachkit/internal/staging"
	"github.com/attachkit/attachkit/internal/thumbnail"
	"github.com/attachkit/attachkit/internal/validate"
)

// Manager orchestrates attachment lifecycles for one record type. All
// collaborators are fixed at construction; Manager is safe for concurrent
// use across independent attachments.
type Manager struct {
	cfg     *config.Config
	fs      afero.Fs
	ds      datastore.Datastore
	store   backend.Backend
	engine  imaging.Engine
	hooks   datastore.Hooks
	deriver *thumbnail.Deriver
	logger  *log.Logger
}

// New wires a Manager. engine may be nil when the record type never
// processes images.
func New(cfg *config.Config, fs afero.Fs, ds datastore.Datastore, store backend.Backend, engine imaging.Engine, hooks datastore.Hooks, logger *log.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		fs:      fs,
		ds:      ds,
		store:   store,
		engine:  engine,
		hooks:   hooks,
		deriver: thumbnail.NewDeriver(engine, ds, hooks, cfg.Thumbnails, cfg.StripMetadata, logger),
		logger:  logger,
	}
}

func (m *Manager) rules() validate.Rules {
	return validate.Rules{
		MinSize:      m.cfg.MinFileSize,
		MaxSize:      m.cfg.MaxFileSize,
		ContentTypes: m.cfg.AllowedTypes,
	}
}

// newList builds the staging list for a, wiring the persisted-bytes
// fallback so an already-persisted attachment can be re-processed without
// a fresh upload.
func (m *Manager) newList(ctx context.Context, a *model.Attachment) *staging.List {
	list := staging.NewList(m.fs)
	list.Fallback = func() (staging.Source, error) {
		if a.StorageKey == "" {
			return nil, fmt.Errorf("attachment %d has no persisted bytes", a.ID)
		}
		data, err := m.store.Read(ctx, a.StorageKey)
		if err != nil {
			return nil, err
		}
		return list.StageBytes(m.cfg.StagingDir, a.Filename, data)
	}
	return list
}

// ReceiveUpload stages uploaded bytes as a new attachment and runs it
// through the lifecycle. On validation failure the returned error is a
// validate.Errors and nothing is committed. A thumbnail.Error return means
// the attachment itself persisted but one or more variants failed.
func (m *Manager) ReceiveUpload(ctx context.Context, data []byte, declaredType, filename string) (*model.Attachment, error) {
	a := &model.Attachment{
		Filename:    model.SanitizeFilename(filename),
		ContentType: validate.SniffContentType(declaredType, data),
		State:       model.StateNew,
	}
	list := m.newList(ctx, a)
	if _, err := list.StageBytes(m.cfg.StagingDir, a.Filename, data); err != nil {
		return nil, err
	}
	a.State = model.StateStaged
	return a, m.process(ctx, a, list)
}

// ReceiveUploadPath is ReceiveUpload for a file already on the staging
// filesystem; the file is not consumed.
func (m *Manager) ReceiveUploadPath(ctx context.Context, path, declaredType, filename string) (*model.Attachment, error) {
	a := &model.Attachment{
		Filename: model.SanitizeFilename(filename),
		State:    model.StateNew,
	}
	list := m.newList(ctx, a)
	list.StagePath(path)
	data, err := list.ReadAll()
	if err != nil {
		return nil, err
	}
	a.ContentType = validate.SniffContentType(declaredType, data)
	a.State = model.StateStaged
	return a, m.process(ctx, a, list)
}

// process drives one attachment from Staged through Persisted. Staging is
// cleared only after a successful backend write.
func (m *Manager) process(ctx context.Context, a *model.Attachment, list *staging.List) error {
	data, err := list.ReadAll()
	if err != nil {
		return err
	}
	a.Size = int64(len(data))
	m.measure(a, list)

	// Staged -> Validated | Invalid.
	if errs := validate.Attachment(a, m.rules()); len(errs) > 0 {
		a.State = model.StateInvalid
		m.logger.Debug("attachment rejected", "filename", a.Filename, "errors", errs.Error())
		if cerr := list.Clear(); cerr != nil {
			m.logger.Warn("staging cleanup incomplete", "filename", a.Filename, "err", cerr)
		}
		return errs
	}
	a.State = model.StateValidated

	// Validated -> Committed: the datastore assigns identity.
	if err := m.ds.Commit(ctx, a); err != nil {
		return fmt.Errorf("commit attachment: %w", err)
	}
	a.State = model.StateCommitted
	a.StorageKey = a.Key()

	// Committed -> Persisted: derive variants, write original bytes, clear
	// staging. Per-label thumbnail failures do not block persistence.
	var thumbErr error
	if m.deriver.Applicable(a) {
		if src, err := list.Current(); err == nil {
			thumbErr = m.deriver.DeriveAll(ctx, a, src.Path(), m)
		} else {
			thumbErr = err
		}
	}

	if err := m.store.Write(ctx, a.StorageKey, data); err != nil {
		return err
	}
	a.State = model.StatePersisted
	if err := m.ds.Commit(ctx, a); err != nil {
		return fmt.Errorf("record persisted state: %w", err)
	}
	if err := list.Clear(); err != nil {
		m.logger.Warn("staging cleanup incomplete", "attachment", a.ID, "err", err)
	}
	m.logger.Info("attachment persisted",
		"id", a.ID, "key", a.StorageKey, "size", a.Size)

	if hook := m.hooks.AfterAttachmentProcessed; hook != nil {
		if err := hook(ctx, a); err != nil {
			return err
		}
	}
	return thumbErr
}

// measure records image dimensions when the attachment is an image and an
// engine is available. Decode failure here is not fatal; the attachment
// simply carries no dimensions.
func (m *Manager) measure(a *model.Attachment, list *staging.List) {
	if m.engine == nil || !a.IsImage() {
		return
	}
	src, err := list.Current()
	if err != nil {
		return
	}
	_ = m.engine.WithImage(src.Path(), func(h imaging.Handle) error {
		a.Width, a.Height = h.Dimensions()
		return nil
	})
}

// SaveDerived runs a derived thumbnail through the same lifecycle as any
// upload. It implements thumbnail.Saver.
func (m *Manager) SaveDerived(ctx context.Context, child *model.Attachment, data []byte) error {
	list := m.newList(ctx, child)
	if _, err := list.StageBytes(m.cfg.StagingDir, child.Filename, data); err != nil {
		return err
	}
	child.State = model.StateStaged
	return m.process(ctx, child, list)
}

// Delete cascades removal: every child thumbnail's bytes and row go first,
// then the attachment's own bytes, then its row. All items are attempted
// even when some fail; failures are joined.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	a, err := m.ds.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.deleteTree(ctx, a)
}

func (m *Manager) deleteTree(ctx context.Context, a *model.Attachment) error {
	var errs []error
	children, err := m.ds.Children(ctx, a.ID)
	if err != nil {
		errs = append(errs, err)
	}
	for _, child := range children {
		if err := m.deleteTree(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	if key := a.Key(); a.State == model.StatePersisted || a.StorageKey != "" {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.ds.DeleteRow(ctx, a.ID); err != nil && !errors.Is(err, datastore.ErrNotFound) {
		errs = append(errs, err)
	}
	a.State = model.StateDeleted
	m.logger.Info("attachment deleted", "id", a.ID, "children", len(children))
	return errors.Join(errs...)
}

// PublicURL returns the public locator for an attachment, or for one of
// its thumbnail variants when label is non-empty.
func (m *Manager) PublicURL(ctx context.Context, id int64, label string) (string, error) {
	a, err := m.ds.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if label != "" {
		child, err := m.ds.FindOrCreateChild(ctx, a.ID, label)
		if err != nil {
			return "", err
		}
		if child.ID == 0 {
			return "", fmt.Errorf("no %q thumbnail for attachment %d", label, id)
		}
		a = child
	}
	return m.store.PublicLocator(ctx, a.Key())
}

// Rederive re-stages an already-persisted attachment from its backend
// bytes and re-derives every thumbnail variant, updating existing child
// rows in place.
func (m *Manager) Rederive(ctx context.Context, id int64) error {
	a, err := m.ds.Get(ctx, id)
	if err != nil {
		return err
	}
	if !m.deriver.Applicable(a) {
		return nil
	}
	list := m.newList(ctx, a)
	src, err := list.Current()
	if err != nil {
		return err
	}
	defer func() {
		if err := list.Clear(); err != nil {
			m.logger.Warn("staging cleanup incomplete", "attachment", a.ID, "err", err)
		}
	}()
	a.State = model.StateStaged
	derr := m.deriver.DeriveAll(ctx, a, src.Path(), m)
	a.State = model.StatePersisted
	if err := m.ds.Commit(ctx, a); err != nil {
		return fmt.Errorf("record rederive: %w", err)
	}
	return derr
}
