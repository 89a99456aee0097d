package images

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/config"
)

// Denoiser merges fragmented detections and drops isolated pixels by dilating
// a mask a fixed number of times and then eroding it.
type Denoiser struct {
	dilate int
	erode  int
	shape  gocv.MorphShape
}

// NewDenoiser creates a denoiser. Zero counts turn the matching stage into a no-op.
//
// Arguments:
//   - dilate: Number of dilation passes.
//   - erode: Number of erosion passes run after dilation.
//   - shape: Structuring element shape; both are 3x3.
//
// Returns:
//   - *Denoiser: Holds no native resources.
func NewDenoiser(dilate, erode int, shape config.KernelShape) *Denoiser {
	ms := gocv.MorphRect
	if shape == config.KernelCross {
		ms = gocv.MorphCross
	}
	return &Denoiser{dilate: dilate, erode: erode, shape: ms}
}

// Apply returns the denoised copy of mask; mask itself is untouched.
// The caller must Close the result.
func (d *Denoiser) Apply(mask gocv.Mat) gocv.Mat {
	out := mask.Clone()
	if d.dilate == 0 && d.erode == 0 {
		return out
	}

	kernel := gocv.GetStructuringElement(d.shape, image.Pt(3, 3))
	defer kernel.Close()

	for i := 0; i < d.dilate; i++ {
		gocv.Dilate(out, &out, kernel)
	}
	for i := 0; i < d.erode; i++ {
		gocv.Erode(out, &out, kernel)
	}
	return out
}
