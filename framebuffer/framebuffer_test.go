package framebuffer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func filled(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func TestNewSharedRejectsGeometry(t *testing.T) {
	for _, dims := range [][3]int{{0, 10, 3}, {10, -1, 3}, {10, 10, 1}, {10, 10, 5}} {
		_, err := NewShared(dims[0], dims[1], dims[2])
		assert.True(t, errors.Is(err, ErrInvalidBuffer), "dims=%v", dims)
	}
}

func TestSharedSnapshotBeforeWrite(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)

	_, err = s.Snapshot()
	assert.True(t, errors.Is(err, ErrInvalidBuffer))
}

func TestSharedWriteRejectsSize(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)

	err = s.Write(filled(10, 1), time.Now())
	assert.True(t, errors.Is(err, ErrInvalidBuffer))
}

func TestSharedCoalescesFrames(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)

	for v := byte(1); v <= 3; v++ {
		require.NoError(t, s.Write(filled(24, v), time.Now()))
	}

	require.NoError(t, s.Wait(context.Background()))
	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)
	assert.Equal(t, filled(24, 3), f.Pix)

	// The three writes produced a single notification.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestSharedSnapshotIsACopy(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)
	require.NoError(t, s.Write(filled(24, 7), time.Now()))

	f, err := s.Snapshot()
	require.NoError(t, err)
	f.Pix[0] = 99

	again, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, byte(7), again.Pix[0])
	assert.NoError(t, again.Validate())
}

func TestSharedWaitWakesOnWrite(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Write(filled(24, 1), time.Now()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Write")
	}
}

func TestSharedClose(t *testing.T) {
	s, err := NewShared(4, 2, 3)
	require.NoError(t, err)
	require.NoError(t, s.Write(filled(24, 1), time.Now()))

	s.Close()
	s.Close()

	// The pending frame is still delivered.
	assert.NoError(t, s.Wait(context.Background()))
	assert.ErrorIs(t, s.Wait(context.Background()), ErrSourceClosed)
	assert.ErrorIs(t, s.Write(filled(24, 2), time.Now()), ErrSourceClosed)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSharedConcurrentWriters(t *testing.T) {
	s, err := NewShared(8, 8, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Write(filled(256, byte(i)), time.Now())
		}
		s.Close()
	}()

	var last uint64
	for {
		if err := s.Wait(ctx); err != nil {
			assert.ErrorIs(t, err, ErrSourceClosed)
			break
		}
		f, err := s.Snapshot()
		require.NoError(t, err)
		// Every byte of a snapshot comes from the same write.
		assert.Equal(t, filled(256, f.Pix[0]), f.Pix)
		assert.GreaterOrEqual(t, f.Seq, last)
		last = f.Seq
	}
	wg.Wait()
	assert.Equal(t, uint64(500), last)
}

func TestFrameMatRoundTrip(t *testing.T) {
	f := Frame{Width: 3, Height: 2, Channels: 3, Pix: []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9,
		10, 11, 12, 13, 14, 15, 16, 17, 18,
	}}

	m, err := f.Mat()
	require.NoError(t, err)
	defer m.Close()

	back, err := FrameFromMat(m, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, f.Pix, back.Pix)

	_, err = Frame{Width: 3, Height: 2, Channels: 3, Pix: []byte{1}}.Mat()
	assert.True(t, errors.Is(err, ErrInvalidBuffer))
}

func TestConform(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 20, 10, 0), 20, 40, gocv.MatTypeCV8UC3)
	defer src.Close()

	out := conform(src, 10, 5, 4)
	defer out.Close()

	assert.Equal(t, 10, out.Cols())
	assert.Equal(t, 5, out.Rows())
	assert.Equal(t, 4, out.Channels())
	v := out.GetVecbAt(2, 2)
	assert.Equal(t, []uint8{30, 20, 10, 255}, []uint8(v))

	same := conform(src, 40, 20, 3)
	defer same.Close()
	assert.Equal(t, src.ToBytes(), same.ToBytes())
}

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestLoadDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-10.png"), 8, 4, color.RGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(dir, "frame-2.png"), 8, 4, color.RGBA{R: 2, A: 255})
	writePNG(t, filepath.Join(dir, "frame-1.png"), 8, 4, color.RGBA{R: 3, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	files, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{files[0].Frame, files[1].Frame, files[2].Frame})
	for _, f := range files {
		assert.NotEmpty(t, f.Data)
	}
}

func TestLoadDirectoryImageFilesBadName(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "cover.png"), 2, 2, color.RGBA{A: 255})

	_, err := LoadDirectoryImageFiles(dir)
	assert.Error(t, err)

	_, err = NewReplay(t.TempDir(), 0, false)
	assert.Error(t, err)
}

func TestReplayRun(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-1.png"), 8, 4, color.RGBA{R: 200, G: 0, B: 0, A: 255})
	writePNG(t, filepath.Join(dir, "frame-2.png"), 8, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	r, err := NewReplay(dir, 0, false)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, r.Len())

	s, err := NewShared(16, 8, 3)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), s))

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
	require.Len(t, f.Pix, 16*8*3)
	for i := 0; i < len(f.Pix); i += 3 {
		assert.InDelta(t, 30, f.Pix[i], 1)
		assert.InDelta(t, 20, f.Pix[i+1], 1)
		assert.InDelta(t, 10, f.Pix[i+2], 1)
	}
}

func TestReplayStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-1.png"), 4, 4, color.RGBA{A: 255})

	r, err := NewReplay(dir, time.Millisecond, true)
	require.NoError(t, err)

	s, err := NewShared(4, 4, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx, s))

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, byte(255), f.Pix[3], "alpha channel is kept")
}

func TestReplayDecodesWebP(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{40, 80, 120, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, img, &webp.Options{Lossless: true}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-7.webp"), buf.Bytes(), 0o600))

	r, err := NewReplay(dir, 0, false)
	require.NoError(t, err)

	s, err := NewShared(4, 4, 3)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), s))

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte{120, 80, 40}, f.Pix[:3])
}
