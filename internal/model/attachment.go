// Package model contains the attachment entity shared across packages.
package model

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// State describes where an attachment sits in its lifecycle.
type State string

const (
	StateNew       State = "new"
	StateStaged    State = "staged"
	StateValidated State = "validated"
	StateCommitted State = "committed"
	StatePersisted State = "persisted"
	StateDeleted   State = "deleted"
	StateInvalid   State = "invalid"
)

// Attachment holds metadata for one stored file, either an original upload
// or a derived thumbnail. Identity is zero until the datastore commits the
// row; StorageKey is derived from identity and is stable from then on.
type Attachment struct {
	ID             int64      `json:"id"`
	Filename       string     `json:"filename"`
	ContentType    string     `json:"contentType"`
	Size           int64      `json:"size"`
	Width          int        `json:"width,omitempty"`
	Height         int        `json:"height,omitempty"`
	StorageKey     string     `json:"storageKey"`
	ParentID       int64      `json:"parentId,omitempty"`
	ThumbnailLabel string     `json:"thumbnailLabel,omitempty"`
	State          State      `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsThumbnail reports whether the attachment is a derived variant.
func (a *Attachment) IsThumbnail() bool {
	return a.ParentID != 0
}

// IsImage reports whether the content type belongs to the recognized image
// MIME set.
func (a *Attachment) IsImage() bool {
	return ImageTypes[a.ContentType]
}

// ImageTypes is the built-in set of recognized image MIME types, used both
// by the ":image" allow-list sentinel and to decide thumbnailability.
var ImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/pjpeg": true,
	"image/png":  true,
	"image/x-png": true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// Key returns the backend storage key for the attachment. The key is a
// function of identity and sanitized filename only, so re-saving an
// attachment overwrites the same object.
func (a *Attachment) Key() string {
	return fmt.Sprintf("%d/%s", a.ID, SanitizeFilename(a.Filename))
}

// SanitizeFilename strips any directory component and replaces characters
// outside [A-Za-z0-9._-] with underscores.
func SanitizeFilename(name string) string {
	base := path.Base(filepath.ToSlash(name))
	if base == "." || base == "/" || base == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ThumbnailFilename inserts "_label" before the extension of the parent
// filename. When forcePNG is set (the active engine cannot emit GIF output)
// the extension is rewritten to .png.
func ThumbnailFilename(parent, label string, forcePNG bool) string {
	clean := SanitizeFilename(parent)
	ext := filepath.Ext(clean)
	stem := strings.TrimSuffix(clean, ext)
	if forcePNG {
		ext = ".png"
	}
	return fmt.Sprintf("%s_%s%s", stem, label, ext)
}
