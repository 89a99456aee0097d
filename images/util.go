package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// MaskArea returns the number of set pixels of a single channel mask.
func MaskArea(mask gocv.Mat) int {
	if mask.Empty() {
		return 0
	}
	return gocv.CountNonZero(mask)
}

// MatFromPixels copies a packed BGR or BGRA buffer into a new Mat.
//
// Arguments:
//   - width, height: Frame size in pixels.
//   - channels: 3 (BGR) or 4 (BGRA).
//   - pix: width*height*channels bytes, row major.
//
// Returns:
//   - gocv.Mat: A Mat owning its own copy of pix; the caller must Close it.
//   - error: If the geometry and the buffer disagree.
func MatFromPixels(width, height, channels int, pix []byte) (gocv.Mat, error) {
	var mt gocv.MatType
	switch channels {
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), errors.Errorf("unsupported channel count %d", channels)
	}
	if want := width * height * channels; len(pix) != want || want == 0 {
		return gocv.NewMat(), errors.Errorf("pixel buffer has %d bytes, want %d", len(pix), want)
	}

	view, err := gocv.NewMatFromBytes(height, width, mt, pix)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "wrap pixel buffer")
	}
	defer view.Close()

	return view.Clone(), nil
}
