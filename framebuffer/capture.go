package framebuffer

import (
	"context"
	"image"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

// Producer fills a shared buffer until its input is exhausted or ctx is done.
type Producer interface {
	Run(ctx context.Context, dst *Shared) error
	Close() error
}

// Capture produces frames from a camera device or a video file.
type Capture struct {
	device string
	camera bool
	vc     *gocv.VideoCapture
}

// OpenCapture opens a capture device. A numeric device is a camera index,
// anything else is a file path or stream URL.
func OpenCapture(device string) (*Capture, error) {
	var src interface{} = device
	id, err := strconv.Atoi(device)
	camera := err == nil
	if camera {
		src = id
	}

	vc, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return nil, errors.Wrapf(err, "open capture %q", device)
	}
	return &Capture{device: device, camera: camera, vc: vc}, nil
}

// Run reads frames, conforms them to the buffer geometry and writes them
// until the device stops delivering or ctx is cancelled. The end of a video
// file returns nil; a camera that stops delivering is an error.
func (c *Capture) Run(ctx context.Context, dst *Shared) error {
	img := gocv.NewMat()
	defer img.Close()

	width, height, channels := dst.Dimensions()
	monitoring.L().Info("capture started", "device", c.device, "width", width, "height", height)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if ok := c.vc.Read(&img); !ok {
			if !c.camera {
				monitoring.L().Info("end of video", "device", c.device)
				return nil
			}
			return errors.Wrapf(ErrSourceClosed, "cannot read device %s", c.device)
		}
		if img.Empty() {
			continue
		}

		conformed := conform(img, width, height, channels)
		f, err := FrameFromMat(conformed, time.Now())
		conformed.Close()
		if err != nil {
			return err
		}
		if err := dst.Write(f.Pix, f.Captured); err != nil {
			return err
		}
	}
}

// Close releases the device.
func (c *Capture) Close() error {
	return c.vc.Close()
}

// conform returns a copy of img with the given size and channel count.
func conform(img gocv.Mat, width, height, channels int) gocv.Mat {
	out := img.Clone()
	if out.Cols() != width || out.Rows() != height {
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		out.Close()
		out = resized
	}

	code, convert := conversion(out.Channels(), channels)
	if convert {
		converted := gocv.NewMat()
		gocv.CvtColor(out, &converted, code)
		out.Close()
		out = converted
	}
	return out
}

func conversion(from, to int) (gocv.ColorConversionCode, bool) {
	switch {
	case from == 3 && to == 4:
		return gocv.ColorBGRToBGRA, true
	case from == 4 && to == 3:
		return gocv.ColorBGRAToBGR, true
	case from == 1 && to == 3:
		return gocv.ColorGrayToBGR, true
	case from == 1 && to == 4:
		return gocv.ColorGrayToBGRA, true
	}
	return 0, false
}
