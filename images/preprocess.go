// Package images - Frame preprocessing for the lane-centering pipeline.
//
// Pipeline Overview:
//
// ┌──────────────┐
// │  Raw Frame   │  BGR or BGRA, fixed size
// └──────┬───────┘
// ┌────────────────────────────────────────────┐
// │ Preprocess (crop, resize, occlusion mask)  │
// └──────┬─────────────────────────────────────┘
// ┌────────────────────────────┐
// │ Segment (HSV in-range) x2  │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Denoise (dilate, erode)    │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Boundaries (Canny, contour │
// │ polygon, enclosing circle) │
// └────────────────────────────┘
//
// Every stage returns freshly allocated Mats owned by the caller; nothing is
// kept between frames.
package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/config"
)

// OcclusionColor fills the self-occlusion ellipse. Pure green (hue 60) lies
// outside both landmark ranges.
var OcclusionColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// Preprocessor crops, rescales and masks raw frames into working frames.
type Preprocessor struct {
	crop      image.Rectangle
	size      image.Point
	occlusion config.Occlusion
}

// NewPreprocessor creates a preprocessor from the pipeline configuration.
//
// Arguments:
//   - cfg: The validated pipeline configuration.
//
// Returns:
//   - *Preprocessor: Ready to use; holds no native resources.
func NewPreprocessor(cfg config.PipelineConfig) *Preprocessor {
	return &Preprocessor{
		crop:      cfg.Crop,
		size:      cfg.WorkingSize,
		occlusion: cfg.Occlusion,
	}
}

// Validate checks the crop rectangle against the raw frame size. Call it once
// at startup; Apply does not repeat the check.
func (p *Preprocessor) Validate(frameWidth, frameHeight int) error {
	bounds := image.Rect(0, 0, frameWidth, frameHeight)
	if p.crop.Empty() || !p.crop.In(bounds) {
		return errors.Wrapf(config.ErrInvalidConfig, "crop rectangle %v does not fit frame %v", p.crop, bounds)
	}
	if p.size.X <= 0 || p.size.Y <= 0 {
		return errors.Wrapf(config.ErrInvalidConfig, "working size %v must be positive", p.size)
	}
	return nil
}

// Size returns the working frame size (width, height).
func (p *Preprocessor) Size() image.Point {
	return p.size
}

// Apply produces the 3-channel BGR working frame for one raw frame.
//
// Arguments:
//   - raw: The raw BGR or BGRA frame. It is not modified.
//
// Returns:
//   - gocv.Mat: The working frame; the caller must Close it.
//   - error: If raw is empty.
func (p *Preprocessor) Apply(raw gocv.Mat) (gocv.Mat, error) {
	if raw.Empty() {
		return gocv.NewMat(), errors.New("preprocess: empty frame")
	}

	region := raw.Region(p.crop)
	defer region.Close()

	working := gocv.NewMat()
	gocv.Resize(region, &working, p.size, 0, 0, gocv.InterpolationLinear)

	if working.Channels() == 4 {
		bgr := gocv.NewMat()
		gocv.CvtColor(working, &bgr, gocv.ColorBGRAToBGR)
		working.Close()
		working = bgr
	}

	if p.occlusion.Enabled() {
		gocv.Ellipse(&working, p.occlusion.Center, p.occlusion.Axes, 0, 0, 360, OcclusionColor, -1)
	}

	return working, nil
}
