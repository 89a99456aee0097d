package images

import (
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/config"
)

// ToHSV converts a BGR working frame to OpenCV 8-bit HSV (H 0..180).
// The caller must Close the result.
func ToHSV(working gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	gocv.CvtColor(working, &hsv, gocv.ColorBGRToHSV)
	return hsv
}

// Segment marks the pixels of hsv that fall inside cr on every channel, bounds
// inclusive. The result is a single channel mask with 255 for members and 0
// elsewhere; the caller must Close it.
func Segment(hsv gocv.Mat, cr config.ColorRange) gocv.Mat {
	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, cr.LowScalar(), cr.HighScalar(), &mask)
	return mask
}
