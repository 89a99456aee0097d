// Package framebuffer holds the latest camera frame shared between a single
// producer and the estimation loop.
//
// The buffer keeps exactly one frame. A producer overwrites it under an
// exclusive lock and signals a coalescing notification channel; the consumer
// waits on that channel, copies the frame out under a read lock and processes
// the copy without holding any lock. Frames written while the consumer is busy
// replace each other and are never queued.
package framebuffer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/images"
)

var (
	// ErrInvalidBuffer is returned when the buffer geometry or a written frame is malformed.
	ErrInvalidBuffer = errors.New("invalid frame buffer")
	// ErrSourceClosed is returned once the producer has stopped.
	ErrSourceClosed = errors.New("frame source closed")
)

// Source is the read side of a frame buffer.
type Source interface {
	// Wait blocks until a frame newer than the last one waited for is available.
	Wait(ctx context.Context) error
	// Snapshot returns a private copy of the latest frame.
	Snapshot() (Frame, error)
	// Dimensions returns the fixed frame geometry.
	Dimensions() (width, height, channels int)
}

// Frame is one raw camera image in BGR or BGRA byte order.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
	// Captured is the time the producer obtained the frame.
	Captured time.Time
	// Seq increases by one for every frame written to the buffer.
	Seq uint64
}

// Validate checks the geometry against the pixel slice.
func (f Frame) Validate() error {
	if err := validGeometry(f.Width, f.Height, f.Channels); err != nil {
		return err
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return errors.Wrapf(ErrInvalidBuffer, "frame has %d bytes, want %d", len(f.Pix), f.Width*f.Height*f.Channels)
	}
	return nil
}

// Mat copies the frame into a new Mat. The caller must Close it.
func (f Frame) Mat() (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	return images.MatFromPixels(f.Width, f.Height, f.Channels, f.Pix)
}

// FrameFromMat copies an 8-bit BGR or BGRA Mat into a Frame. Seq is left for
// the buffer to assign.
func FrameFromMat(m gocv.Mat, captured time.Time) (Frame, error) {
	if m.Empty() {
		return Frame{}, errors.Wrap(ErrInvalidBuffer, "empty mat")
	}
	f := Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
		Pix:      m.ToBytes(),
		Captured: captured,
	}
	return f, f.Validate()
}

func validGeometry(width, height, channels int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidBuffer, "frame size %dx%d must be positive", width, height)
	}
	if channels != 3 && channels != 4 {
		return errors.Wrapf(ErrInvalidBuffer, "frame has %d channels, want 3 or 4", channels)
	}
	return nil
}
