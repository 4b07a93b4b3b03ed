package imaging

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

func init() {
	Register("magick", func(fs afero.Fs) (Engine, error) {
		bin, err := lookupMagick()
		if err != nil {
			return nil, err
		}
		return &magickEngine{bin: bin}, nil
	})
}

func lookupMagick() (string, error) {
	for _, candidate := range []string{"magick", "convert"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no ImageMagick binary on PATH", ErrUnavailable)
}

// magickEngine shells out to ImageMagick. It operates on real filesystem
// paths, so it requires an OS-backed staging filesystem. Registration
// succeeds only when the binary is found on PATH.
type magickEngine struct {
	bin string
}

func (e *magickEngine) Name() string      { return "magick" }
func (e *magickEngine) SupportsGIF() bool { return true }

type magickHandle struct {
	path   string
	width  int
	height int
}

func (h *magickHandle) Dimensions() (int, int) { return h.width, h.height }

func (e *magickEngine) WithImage(path string, fn func(Handle) error) error {
	w, h, err := e.identify(path)
	if err != nil {
		return err
	}
	return fn(&magickHandle{path: path, width: w, height: h})
}

func (e *magickEngine) identify(path string) (int, int, error) {
	res, err := e.run("identify", "-format", "%w %h", path+"[0]")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	var w, h int
	fields := strings.Fields(strings.TrimSpace(res))
	if len(fields) == 2 {
		w, _ = strconv.Atoi(fields[0])
		h, _ = strconv.Atoi(fields[1])
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("%w: identify returned %q", ErrNotImage, res)
	}
	return w, h, nil
}

func (e *magickEngine) Resize(h Handle, g Geometry, opts ResizeOptions) ([]byte, error) {
	mh, ok := h.(*magickHandle)
	if !ok {
		return nil, fmt.Errorf("handle does not belong to the magick engine")
	}
	out := filepath.Join(os.TempDir(), TempOutName(opts.TargetType, mh.path))
	defer os.Remove(out)

	args := []string{mh.path + "[0]", "-resize", g.String()}
	if opts.Strip {
		args = append(args, "-strip")
	}
	args = append(args, out)
	if _, err := e.run("convert", args...); err != nil {
		return nil, fmt.Errorf("magick resize: %w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read magick output: %w", err)
	}
	return data, nil
}

// run invokes the ImageMagick binary. When the binary is the v7 "magick"
// front end the subcommand is passed through; the v6 binaries are invoked
// directly.
func (e *magickEngine) run(sub string, args ...string) (string, error) {
	cmdArgs := args
	if filepath.Base(e.bin) == "magick" {
		cmdArgs = append([]string{sub}, args...)
	} else if sub == "identify" {
		if path, err := exec.LookPath("identify"); err == nil {
			res, err := (execute.ExecTask{Command: path, Args: args}).Execute(context.Background())
			if err != nil {
				return "", err
			}
			if res.ExitCode != 0 {
				return "", fmt.Errorf("identify exited %d: %s", res.ExitCode, res.Stderr)
			}
			return res.Stdout, nil
		}
		return "", fmt.Errorf("%w: identify not on PATH", ErrUnavailable)
	}
	res, err := (execute.ExecTask{Command: e.bin, Args: cmdArgs}).Execute(context.Background())
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", sub, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// TempOutName names a scratch output file whose extension selects the
// ImageMagick output encoder.
func TempOutName(targetType, src string) string {
	ext := map[string]string{
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"image/gif":  ".gif",
	}[targetType]
	if ext == "" {
		ext = filepath.Ext(src)
	}
	return fmt.Sprintf("magick_%s%s", uuid.NewString(), ext)
}
