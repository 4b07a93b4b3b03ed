package imaging

import (
	"bytes"
	"fmt"
	"image"

	img "github.com/disintegration/imaging"
	"github.com/spf13/afero"
)

func init() {
	Register("imaging", func(fs afero.Fs) (Engine, error) {
		return &imagingEngine{fs: fs}, nil
	})
}

// imagingEngine resizes in-process with github.com/disintegration/imaging.
// It can encode every recognized format, GIF included.
type imagingEngine struct {
	fs afero.Fs
}

func (e *imagingEngine) Name() string      { return "imaging" }
func (e *imagingEngine) SupportsGIF() bool { return true }

type imagingHandle struct {
	img  image.Image
	mime string
}

func (h *imagingHandle) Dimensions() (int, int) {
	b := h.img.Bounds()
	return b.Dx(), b.Dy()
}

func (e *imagingEngine) WithImage(path string, fn func(Handle) error) error {
	f, err := e.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	decoded, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return fn(&imagingHandle{img: decoded, mime: "image/" + format})
}

func (e *imagingEngine) Resize(h Handle, g Geometry, opts ResizeOptions) ([]byte, error) {
	ih, ok := h.(*imagingHandle)
	if !ok {
		return nil, fmt.Errorf("handle does not belong to the imaging engine")
	}
	w, hgt := g.Fit(ih.Dimensions())
	resized := img.Resize(ih.img, w, hgt, img.Lanczos)

	target := opts.TargetType
	if target == "" {
		target = ih.mime
	}
	format, err := formatForType(target)
	if err != nil {
		return nil, err
	}
	// Encoding a freshly decoded pixel buffer never carries source metadata,
	// so the strip preference holds regardless of opts.Strip.
	var buf bytes.Buffer
	if err := img.Encode(&buf, resized, format, img.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", target, err)
	}
	return buf.Bytes(), nil
}

func formatForType(contentType string) (img.Format, error) {
	switch contentType {
	case "image/jpeg", "image/pjpeg":
		return img.JPEG, nil
	case "image/png", "image/x-png":
		return img.PNG, nil
	case "image/gif":
		return img.GIF, nil
	case "image/tiff":
		return img.TIFF, nil
	case "image/bmp":
		return img.BMP, nil
	}
	return 0, fmt.Errorf("no encoder for %s", contentType)
}
