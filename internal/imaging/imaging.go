// Package imaging is the pluggable image-processing capability: identify,
// resize and metadata-strip, with concrete engines selected once at
// configuration time.
package imaging

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// ErrNotImage marks bytes that could not be decoded as an image. Thumbnail
// derivation treats it as fatal for the variant being derived only.
var ErrNotImage = errors.New("cannot decode image")

// ErrUnavailable is returned by a factory whose engine cannot run in this
// environment (e.g. a required external binary is missing).
var ErrUnavailable = errors.New("engine unavailable")

// Handle is an open image. Handles are only valid inside the WithImage
// callback that produced them.
type Handle interface {
	Dimensions() (width, height int)
}

// ResizeOptions control the encoded output of a resize.
type ResizeOptions struct {
	// TargetType selects the output encoding by MIME type. Empty means
	// "same as source".
	TargetType string
	// Strip removes embedded metadata from the output where the engine
	// distinguishes this from re-encoding.
	Strip bool
}

// Engine is one concrete image-processing implementation. Engines must be
// safe for concurrent independent invocations.
type Engine interface {
	Name() string
	// SupportsGIF reports whether the engine can emit GIF output. Thumbnails
	// of GIF sources are re-targeted to PNG when it cannot.
	SupportsGIF() bool
	// WithImage opens the image at path, invokes fn with its handle and
	// releases the handle's resources on every exit path.
	WithImage(path string, fn func(Handle) error) error
	// Resize scales the image to geometry and returns the encoded bytes.
	Resize(h Handle, g Geometry, opts ResizeOptions) ([]byte, error)
}

// Factory builds an engine against the given filesystem, or reports
// ErrUnavailable when the engine cannot run here.
type Factory func(fs afero.Fs) (Engine, error)

var registry = map[string]Factory{}

// Register adds a named engine factory. Engines register themselves in
// their init functions.
func Register(name string, f Factory) {
	registry[name] = f
}

// Names lists the registered engine names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultOrder is the probe order used when no engine is configured
// explicitly.
var DefaultOrder = []string{"imaging", "xdraw", "magick"}

// New builds the named engine. Unknown names and unavailable engines are
// both configuration errors.
func New(name string, fs afero.Fs) (Engine, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown image engine %q (have %s)", name, strings.Join(Names(), ", "))
	}
	eng, err := factory(fs)
	if err != nil {
		return nil, fmt.Errorf("image engine %q: %w", name, err)
	}
	return eng, nil
}

// Select resolves the active engine for a record type. An explicit name is
// built directly and its failure is reported, because explicit
// configuration signals intent. Otherwise the order is probed and engines
// that fail to load are skipped.
func Select(explicit string, order []string, fs afero.Fs, logger *log.Logger) (Engine, error) {
	if explicit != "" {
		return New(explicit, fs)
	}
	if len(order) == 0 {
		order = DefaultOrder
	}
	for _, name := range order {
		eng, err := New(name, fs)
		if err != nil {
			if logger != nil {
				logger.Debug("image engine skipped", "engine", name, "err", err)
			}
			continue
		}
		return eng, nil
	}
	return nil, fmt.Errorf("no usable image engine in %v", order)
}

// Geometry is a parsed resize specification.
type Geometry struct {
	Width  int
	Height int
	// Exact forces the output to exactly Width x Height instead of fitting
	// within the box while preserving aspect ratio.
	Exact bool
}

// ParseGeometry parses "WxH", "WxH!", "Wx" and "xH" specs.
func ParseGeometry(spec string) (Geometry, error) {
	var g Geometry
	s := strings.TrimSpace(spec)
	if strings.HasSuffix(s, "!") {
		g.Exact = true
		s = strings.TrimSuffix(s, "!")
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return g, fmt.Errorf("malformed geometry %q", spec)
	}
	var err error
	if w != "" {
		if g.Width, err = strconv.Atoi(w); err != nil || g.Width <= 0 {
			return g, fmt.Errorf("malformed geometry %q", spec)
		}
	}
	if h != "" {
		if g.Height, err = strconv.Atoi(h); err != nil || g.Height <= 0 {
			return g, fmt.Errorf("malformed geometry %q", spec)
		}
	}
	if g.Width == 0 && g.Height == 0 {
		return g, fmt.Errorf("malformed geometry %q", spec)
	}
	if g.Exact && (g.Width == 0 || g.Height == 0) {
		return g, fmt.Errorf("exact geometry %q needs both dimensions", spec)
	}
	return g, nil
}

func (g Geometry) String() string {
	var b strings.Builder
	if g.Width > 0 {
		b.WriteString(strconv.Itoa(g.Width))
	}
	b.WriteByte('x')
	if g.Height > 0 {
		b.WriteString(strconv.Itoa(g.Height))
	}
	if g.Exact {
		b.WriteByte('!')
	}
	return b.String()
}

// Fit computes the output dimensions for a source of w x h.
func (g Geometry) Fit(w, h int) (int, int) {
	if g.Exact {
		return g.Width, g.Height
	}
	if w <= 0 || h <= 0 {
		return g.Width, g.Height
	}
	switch {
	case g.Width == 0:
		return max(1, w*g.Height/h), g.Height
	case g.Height == 0:
		return g.Width, max(1, h*g.Width/w)
	}
	// Fit within the box, preserving aspect.
	if w*g.Height <= h*g.Width {
		return max(1, w*g.Height/h), g.Height
	}
	return g.Width, max(1, h*g.Width/w)
}
