package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/signing"
)

func init() {
	Register("fs", func(ctx context.Context, cfg *config.Config) (Backend, error) {
		fs := afero.NewOsFs()
		var signer *signing.Signer
		if len(cfg.SigningSecret) > 0 {
			signer = signing.NewSigner(cfg.SigningSecret)
		}
		return NewFS(fs, cfg.PathPrefix, signer, cfg.LocatorTTL)
	})
}

// FS stores attachment bytes under a root directory. When a signer is
// configured, public locators carry an expiring HMAC token.
type FS struct {
	fs     afero.Fs
	root   string
	signer *signing.Signer
	ttl    time.Duration
}

// NewFS creates a filesystem backend rooted at root.
func NewFS(fs afero.Fs, root string, signer *signing.Signer, ttl time.Duration) (*FS, error) {
	clean := filepath.Clean(root)
	if err := fs.MkdirAll(clean, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", clean, err)
	}
	return &FS{fs: fs, root: clean, signer: signer, ttl: ttl}, nil
}

func (b *FS) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *FS) Write(ctx context.Context, key string, data []byte) error {
	full := b.path(key)
	if err := b.fs.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return &OpError{Backend: "fs", Op: "write", Key: key, Err: err}
	}
	if err := afero.WriteFile(b.fs, full, data, 0o640); err != nil {
		return &OpError{Backend: "fs", Op: "write", Key: key, Err: err}
	}
	return nil
}

func (b *FS) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path(key))
	if err != nil {
		return nil, &OpError{Backend: "fs", Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (b *FS) Delete(ctx context.Context, key string) error {
	err := b.fs.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &OpError{Backend: "fs", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// PublicLocator returns the stored path, signed with an expiry when the
// backend carries a signer.
func (b *FS) PublicLocator(ctx context.Context, key string) (string, error) {
	p := b.path(key)
	if b.signer == nil {
		return p, nil
	}
	expiry := time.Now().Add(b.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiry, 10))
	q.Set("signature", b.signer.Sign(key, expiry))
	return p + "?" + q.Encode(), nil
}
