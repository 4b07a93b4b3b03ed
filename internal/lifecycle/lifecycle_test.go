package lifecycle

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachkit/attachkit/internal/backend"
	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/imaging"
	"github.com/attachkit/attachkit/internal/model"
	"github.com/attachkit/attachkit/internal/thumbnail"
	"github.com/attachkit/attachkit/internal/validate"
)

// countingBackend wraps a real backend and records the calls that reach it.
type countingBackend struct {
	backend.Backend

	mu      sync.Mutex
	writes  []string
	deletes []string
}

func (c *countingBackend) Write(ctx context.Context, key string, data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, key)
	c.mu.Unlock()
	return c.Backend.Write(ctx, key, data)
}

func (c *countingBackend) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, key)
	c.mu.Unlock()
	return c.Backend.Delete(ctx, key)
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.White, color.Black})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testConfig(thumbs map[string]string) *config.Config {
	return &config.Config{
		BackendKind:  "fs",
		PathPrefix:   "/store",
		StagingDir:   "/staging",
		MinFileSize:  1,
		MaxFileSize:  1 << 20,
		AllowedTypes: []string{":image"},
		Thumbnails:   thumbs,
	}
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *datastore.Memory, *countingBackend, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()

	inner, err := backend.NewFS(fs, cfg.PathPrefix, nil, time.Minute)
	require.NoError(t, err)
	store := &countingBackend{Backend: inner}

	eng, err := imaging.New("xdraw", fs)
	require.NoError(t, err)

	ds := datastore.NewMemory()
	m := New(cfg, fs, ds, store, eng, datastore.Hooks{}, log.New(io.Discard))
	return m, ds, store, fs
}

func TestUploadImageWithThumbnail(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	m, ds, store, _ := newTestManager(t, cfg)

	data := jpegBytes(t, 100, 100)
	parent, err := m.ReceiveUpload(ctx, data, "image/jpeg", "photo.jpg")
	require.NoError(t, err)

	assert.Equal(t, "photo.jpg", parent.Filename)
	assert.Equal(t, "image/jpeg", parent.ContentType)
	assert.Equal(t, int64(len(data)), parent.Size)
	assert.Equal(t, 100, parent.Width)
	assert.Equal(t, 100, parent.Height)
	assert.Equal(t, model.StatePersisted, parent.State)
	assert.Equal(t, parent.Key(), parent.StorageKey)

	children, err := ds.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	child := children[0]
	assert.Equal(t, "photo_thumb.jpg", child.Filename)
	assert.Equal(t, "thumb", child.ThumbnailLabel)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, model.StatePersisted, child.State)

	// One write for the original, one for the variant.
	assert.Len(t, store.writes, 2)

	got, err := store.Read(ctx, parent.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadGIFWithPNGOnlyEngine(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	m, ds, _, _ := newTestManager(t, cfg)

	parent, err := m.ReceiveUpload(ctx, gifBytes(t, 80, 80), "image/gif", "anim.gif")
	require.NoError(t, err)

	children, err := ds.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "anim_thumb.png", children[0].Filename)
	assert.Equal(t, "image/png", children[0].ContentType)
}

func TestUploadNonImageSkipsDerivation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	cfg.AllowedTypes = nil // empty allow-list accepts everything
	m, ds, store, _ := newTestManager(t, cfg)

	a, err := m.ReceiveUpload(ctx, []byte("%PDF-1.7 pretend"), "application/pdf", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatePersisted, a.State)

	children, err := ds.Children(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Len(t, store.writes, 1)
}

func TestUploadRejectedLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(nil)
	cfg.MaxFileSize = 10
	m, ds, store, fs := newTestManager(t, cfg)

	_, err := m.ReceiveUpload(ctx, jpegBytes(t, 50, 50), "image/jpeg", "big.jpg")
	require.Error(t, err)

	var verrs validate.Errors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("size"))

	assert.Equal(t, 0, ds.Len(), "nothing committed")
	assert.Empty(t, store.writes)

	// Rejection releases the staged temp file.
	entries, rerr := afero.ReadDir(fs, cfg.StagingDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestUploadDisallowedType(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(nil)
	m, ds, _, _ := newTestManager(t, cfg)

	_, err := m.ReceiveUpload(ctx, []byte("plain text"), "text/plain", "notes.txt")
	require.Error(t, err)

	var verrs validate.Errors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("content_type"))
	assert.Equal(t, 0, ds.Len())
}

func TestOneVariantFailingSparesTheRest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{
		"thumb":  "50x50",
		"medium": "200x200",
		"broken": "30x30",
	})
	m, ds, store, _ := newTestManager(t, cfg)

	// The hook vetoes exactly one label mid-derivation.
	m.hooks.BeforeThumbnailSaved = func(ctx context.Context, child *model.Attachment) error {
		if child.ThumbnailLabel == "broken" {
			return assert.AnError
		}
		return nil
	}
	m.deriver = thumbnail.NewDeriver(m.engine, m.ds, m.hooks, cfg.Thumbnails, false, m.logger)

	parent, err := m.ReceiveUpload(ctx, jpegBytes(t, 100, 100), "image/jpeg", "photo.jpg")
	require.Error(t, err)

	var te *thumbnail.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "broken", te.Label)

	// The parent still persisted, as did the two healthy variants.
	assert.Equal(t, model.StatePersisted, parent.State)
	children, err := ds.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.Len(t, store.writes, 3)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50", "medium": "200x200"})
	m, ds, store, _ := newTestManager(t, cfg)

	parent, err := m.ReceiveUpload(ctx, jpegBytes(t, 100, 100), "image/jpeg", "photo.jpg")
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	require.NoError(t, m.Delete(ctx, parent.ID))

	// Both variants plus the original: bytes and rows all gone, parent last.
	require.Len(t, store.deletes, 3)
	assert.Equal(t, parent.Key(), store.deletes[2])
	assert.Equal(t, 0, ds.Len())

	_, err = store.Read(ctx, parent.Key())
	assert.Error(t, err)
}

func TestDeleteMissingAttachment(t *testing.T) {
	cfg := testConfig(nil)
	m, _, _, _ := newTestManager(t, cfg)
	assert.ErrorIs(t, m.Delete(context.Background(), 404), datastore.ErrNotFound)
}

func TestRederiveUpdatesChildrenInPlace(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	m, ds, store, _ := newTestManager(t, cfg)

	parent, err := m.ReceiveUpload(ctx, jpegBytes(t, 100, 100), "image/jpeg", "photo.jpg")
	require.NoError(t, err)

	before, err := ds.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	writesBefore := len(store.writes)

	// The staging list is gone; re-derivation restores bytes from the backend.
	require.NoError(t, m.Rederive(ctx, parent.ID))

	after, err := ds.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, after, 1, "no duplicate child rows")
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Greater(t, len(store.writes), writesBefore, "variant bytes rewritten")
}

func TestRederiveNonImageIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	cfg.AllowedTypes = nil
	m, ds, store, _ := newTestManager(t, cfg)

	a, err := m.ReceiveUpload(ctx, []byte("just bytes"), "application/octet-stream", "blob.bin")
	require.NoError(t, err)

	writesBefore := len(store.writes)
	require.NoError(t, m.Rederive(ctx, a.ID))
	assert.Len(t, store.writes, writesBefore)
	assert.Equal(t, 1, ds.Len())
}

func TestPublicURL(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(map[string]string{"thumb": "50x50"})
	m, _, _, _ := newTestManager(t, cfg)

	parent, err := m.ReceiveUpload(ctx, jpegBytes(t, 100, 100), "image/jpeg", "photo.jpg")
	require.NoError(t, err)

	loc, err := m.PublicURL(ctx, parent.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "/store/"+parent.Key(), loc)

	thumbLoc, err := m.PublicURL(ctx, parent.ID, "thumb")
	require.NoError(t, err)
	assert.Contains(t, thumbLoc, "photo_thumb.jpg")

	_, err = m.PublicURL(ctx, parent.ID, "no-such-label")
	assert.Error(t, err)
}

func TestReceiveUploadPath(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(nil)
	cfg.AllowedTypes = nil
	m, _, store, fs := newTestManager(t, cfg)

	require.NoError(t, afero.WriteFile(fs, "/inbox/upload.bin", []byte("file on disk"), 0o600))

	a, err := m.ReceiveUploadPath(ctx, "/inbox/upload.bin", "application/octet-stream", "upload.bin")
	require.NoError(t, err)
	assert.Equal(t, model.StatePersisted, a.State)
	assert.Len(t, store.writes, 1)

	// The source file is not owned by staging and survives processing.
	exists, err := afero.Exists(fs, "/inbox/upload.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}
