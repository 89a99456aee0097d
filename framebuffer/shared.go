package framebuffer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Shared is a single-slot frame buffer with latest-frame semantics.
type Shared struct {
	width, height, channels int

	mu    sync.RWMutex
	frame Frame

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewShared allocates a buffer for frames of a fixed geometry.
//
// Arguments:
//   - width, height: Frame size in pixels.
//   - channels: 3 (BGR) or 4 (BGRA).
//
// Returns:
//   - *Shared: The empty buffer.
//   - error: ErrInvalidBuffer if the geometry is malformed.
func NewShared(width, height, channels int) (*Shared, error) {
	if err := validGeometry(width, height, channels); err != nil {
		return nil, err
	}
	return &Shared{
		width:    width,
		height:   height,
		channels: channels,
		frame: Frame{
			Width:    width,
			Height:   height,
			Channels: channels,
			Pix:      make([]byte, width*height*channels),
		},
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}, nil
}

// Dimensions returns the frame geometry.
func (s *Shared) Dimensions() (width, height, channels int) {
	return s.width, s.height, s.channels
}

// Write replaces the buffered frame and wakes the consumer. It never blocks on
// the consumer.
func (s *Shared) Write(pix []byte, captured time.Time) error {
	select {
	case <-s.closed:
		return ErrSourceClosed
	default:
	}
	if len(pix) != len(s.frame.Pix) {
		return errors.Wrapf(ErrInvalidBuffer, "write of %d bytes into %dx%dx%d buffer", len(pix), s.width, s.height, s.channels)
	}

	s.mu.Lock()
	copy(s.frame.Pix, pix)
	s.frame.Captured = captured
	s.frame.Seq++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until a new frame has been written since the previous Wait. A
// frame already pending is reported even after Close.
func (s *Shared) Wait(ctx context.Context) error {
	select {
	case <-s.notify:
		return nil
	default:
	}

	select {
	case <-s.notify:
		return nil
	case <-s.closed:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot copies the latest frame out of the buffer.
func (s *Shared) Snapshot() (Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame.Seq == 0 {
		return Frame{}, errors.Wrap(ErrInvalidBuffer, "no frame written yet")
	}
	f := s.frame
	f.Pix = append([]byte(nil), s.frame.Pix...)
	return f, nil
}

// Close marks the producer as stopped. Pending and future Wait calls return
// ErrSourceClosed once no frame is pending.
func (s *Shared) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Done is closed when the buffer is closed.
func (s *Shared) Done() <-chan struct{} {
	return s.closed
}
