package framebuffer

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // decoders for replayed frames
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

// ImageFile is one recorded frame on disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number parsed from the file name.
	Frame int
}

// LoadDirectoryImageFiles reads every frame-<n>.<ext> image in dir, sorted by
// frame number. Files with other extensions are ignored.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The recorded frames in playback order.
//   - error: If the directory cannot be read or an image name has no frame number.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read replay dir %s", dir)
	}

	var out []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp":
			imgPath := filepath.Join(dir, file.Name())
			frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "frame-"), filepath.Ext(file.Name())))
			if err != nil {
				return nil, errors.Wrapf(err, "frame number of %s", file.Name())
			}
			data, err := os.ReadFile(imgPath)
			if err != nil {
				return nil, errors.Wrapf(err, "read %s", imgPath)
			}
			out = append(out, ImageFile{
				Path:  imgPath,
				Data:  data,
				Frame: frame,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Frame < out[j].Frame
	})

	return out, nil
}

// Replay produces frames from a directory of recorded images.
type Replay struct {
	files    []ImageFile
	interval time.Duration
	loop     bool
}

// NewReplay loads the recorded frames of dir.
//
// Arguments:
//   - dir: Directory of frame-<n> images.
//   - interval: Delay between frames; zero replays as fast as possible.
//   - loop: Restart from the first frame after the last one.
func NewReplay(dir string, interval time.Duration, loop bool) (*Replay, error) {
	files, err := LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames in %s", dir)
	}
	return &Replay{files: files, interval: interval, loop: loop}, nil
}

// Len is the number of recorded frames.
func (r *Replay) Len() int {
	return len(r.files)
}

// Run writes each recorded frame to dst, resized to the buffer geometry. It
// returns nil after the last frame unless looping.
func (r *Replay) Run(ctx context.Context, dst *Shared) error {
	width, height, channels := dst.Dimensions()
	monitoring.L().Info("replay started", "frames", len(r.files), "interval", r.interval, "loop", r.loop)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for _, f := range r.files {
			pix, err := decodeFrame(f.Path, f.Data, width, height, channels)
			if err != nil {
				return errors.Wrapf(err, "frame %d", f.Frame)
			}
			if err := dst.Write(pix, time.Now()); err != nil {
				return err
			}

			if tick != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return nil
			}
		}
		if !r.loop {
			return nil
		}
	}
}

// Close is a no-op; the frames are held in memory.
func (r *Replay) Close() error {
	return nil
}

// decodeImage decodes by extension: WebP explicitly, everything else through
// the registered image decoders.
func decodeImage(path string, data []byte) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		return webp.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// decodeFrame decodes an encoded image and lays it out as BGR or BGRA bytes of
// the requested size.
func decodeFrame(path string, data []byte, width, height, channels int) ([]byte, error) {
	img, err := decodeImage(path, data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		b = img.Bounds()
	}

	pix := make([]byte, 0, width*height*channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			pix = append(pix, byte(bl>>8), byte(g>>8), byte(r>>8))
			if channels == 4 {
				pix = append(pix, byte(a>>8))
			}
		}
	}
	return pix, nil
}
