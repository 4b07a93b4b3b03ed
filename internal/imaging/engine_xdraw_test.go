package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o600))
}

func writeGIF(t *testing.T, fs afero.Fs, path string, w, h int) {
	t.Helper()
	pal := color.Palette{color.White, color.Black}
	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o600))
}

func TestXDrawDimensions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/img/src.png", 120, 80)

	eng, err := New("xdraw", fs)
	require.NoError(t, err)

	err = eng.WithImage("/img/src.png", func(h Handle) error {
		w, hgt := h.Dimensions()
		assert.Equal(t, 120, w)
		assert.Equal(t, 80, hgt)
		return nil
	})
	require.NoError(t, err)
}

func TestXDrawResize(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/img/src.png", 100, 100)

	eng, err := New("xdraw", fs)
	require.NoError(t, err)

	var out []byte
	err = eng.WithImage("/img/src.png", func(h Handle) error {
		var rerr error
		out, rerr = eng.Resize(h, Geometry{Width: 50, Height: 50}, ResizeOptions{})
		return rerr
	})
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 50, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())
}

func TestXDrawDecodesGIFButWillNotEncodeIt(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeGIF(t, fs, "/img/anim.gif", 40, 40)

	eng, err := New("xdraw", fs)
	require.NoError(t, err)
	assert.False(t, eng.SupportsGIF())

	err = eng.WithImage("/img/anim.gif", func(h Handle) error {
		// GIF output is refused; PNG re-targeting works.
		_, rerr := eng.Resize(h, Geometry{Width: 20, Height: 20}, ResizeOptions{TargetType: "image/gif"})
		assert.Error(t, rerr)

		out, rerr := eng.Resize(h, Geometry{Width: 20, Height: 20}, ResizeOptions{TargetType: "image/png"})
		require.NoError(t, rerr)
		_, format, derr := image.Decode(bytes.NewReader(out))
		require.NoError(t, derr)
		assert.Equal(t, "png", format)
		return nil
	})
	require.NoError(t, err)
}

func TestXDrawRejectsNonImage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/img/not-an-image.txt", []byte("plain text"), 0o600))

	eng, err := New("xdraw", fs)
	require.NoError(t, err)

	err = eng.WithImage("/img/not-an-image.txt", func(h Handle) error {
		t.Fatal("callback must not run for undecodable bytes")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotImage)
}
