package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/spf13/afero"
	"golang.org/x/image/draw"
)

func init() {
	Register("xdraw", func(fs afero.Fs) (Engine, error) {
		return &xdrawEngine{fs: fs}, nil
	})
}

// xdrawEngine scales with golang.org/x/image/draw. It decodes GIF but only
// encodes PNG and JPEG, so GIF thumbnails are re-targeted to PNG.
type xdrawEngine struct {
	fs afero.Fs
}

func (e *xdrawEngine) Name() string      { return "xdraw" }
func (e *xdrawEngine) SupportsGIF() bool { return false }

type xdrawHandle struct {
	img  image.Image
	mime string
}

func (h *xdrawHandle) Dimensions() (int, int) {
	b := h.img.Bounds()
	return b.Dx(), b.Dy()
}

func (e *xdrawEngine) WithImage(path string, fn func(Handle) error) error {
	f, err := e.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	decoded, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return fn(&xdrawHandle{img: decoded, mime: "image/" + format})
}

func (e *xdrawEngine) Resize(h Handle, g Geometry, opts ResizeOptions) ([]byte, error) {
	xh, ok := h.(*xdrawHandle)
	if !ok {
		return nil, fmt.Errorf("handle does not belong to the xdraw engine")
	}
	w, hgt := g.Fit(xh.Dimensions())
	dst := image.NewRGBA(image.Rect(0, 0, w, hgt))
	draw.CatmullRom.Scale(dst, dst.Bounds(), xh.img, xh.img.Bounds(), draw.Over, nil)

	target := opts.TargetType
	if target == "" {
		target = xh.mime
	}
	var buf bytes.Buffer
	switch target {
	case "image/png", "image/x-png":
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "image/jpeg", "image/pjpeg":
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("no encoder for %s", target)
	}
	return buf.Bytes(), nil
}
