// Package controller - Per-frame lane-centering pipeline and the loop that drives it.
package controller

import (
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/framebuffer"
	"github.com/nvr-ai/go-lanekeeper/images"
	"github.com/nvr-ai/go-lanekeeper/lane"
	"github.com/nvr-ai/go-lanekeeper/profiler"
)

// Result is everything one pipeline pass produces.
type Result struct {
	Estimate lane.Estimate
	ShapesA  []images.BoundaryShape
	ShapesB  []images.BoundaryShape
	// AreaA and AreaB are the denoised mask pixel counts.
	AreaA int
	AreaB int
	// Duration is the wall time of the pass.
	Duration time.Duration
}

// Pipeline converts one raw frame into a steering estimate. It holds only
// configuration, so a single Pipeline may serve concurrent callers.
type Pipeline struct {
	pre       *images.Preprocessor
	classA    config.ColorRange
	classB    config.ColorRange
	denoiser  *images.Denoiser
	extractor *images.BoundaryExtractor
	estimator *lane.Estimator
	origin    gocv.Point2f
	prof      *profiler.Profiler
}

// NewPipeline builds the stages from a validated pipeline configuration.
//
// Arguments:
//   - cfg: The pipeline configuration, taken by value.
//
// Returns:
//   - *Pipeline: The assembled pipeline.
func NewPipeline(cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		pre:       images.NewPreprocessor(cfg),
		classA:    cfg.ClassA,
		classB:    cfg.ClassB,
		denoiser:  images.NewDenoiser(cfg.Dilate, cfg.Erode, cfg.Kernel),
		extractor: images.NewBoundaryExtractor(cfg),
		estimator: lane.NewEstimator(cfg),
		origin:    cfg.Origin,
	}
}

// WithProfiler records per-stage timings into prof.
func (p *Pipeline) WithProfiler(prof *profiler.Profiler) *Pipeline {
	p.prof = prof
	return p
}

// Validate checks the pipeline geometry against the raw frame size.
func (p *Pipeline) Validate(frameWidth, frameHeight int) error {
	return p.pre.Validate(frameWidth, frameHeight)
}

// Process runs every stage on one raw frame.
//
// Arguments:
//   - raw: A BGR or BGRA frame of the validated size. It is not modified.
//
// Returns:
//   - Result: The estimate and its intermediate shapes.
//   - error: If the frame cannot be preprocessed.
func (p *Pipeline) Process(raw gocv.Mat) (Result, error) {
	start := time.Now()

	done := p.stage(profiler.StagePreprocess)
	working, err := p.pre.Apply(raw)
	done()
	if err != nil {
		return Result{}, errors.Wrap(err, "preprocess")
	}
	defer working.Close()

	done = p.stage(profiler.StageSegment)
	hsv := images.ToHSV(working)
	done()
	defer hsv.Close()

	var r Result
	r.ShapesA, r.AreaA = p.landmarks(hsv, p.classA)
	r.ShapesB, r.AreaB = p.landmarks(hsv, p.classB)

	done = p.stage(profiler.StageEstimate)
	r.Estimate = p.estimator.Estimate(r.ShapesA, r.ShapesB)
	done()

	r.Duration = time.Since(start)
	return r, nil
}

// ProcessFrame runs Process on a frame copied out of the frame buffer.
func (p *Pipeline) ProcessFrame(f framebuffer.Frame) (Result, error) {
	m, err := f.Mat()
	if err != nil {
		return Result{}, err
	}
	defer m.Close()
	return p.Process(m)
}

// Preview draws a result on the working frame of raw. The caller must Close
// the returned Mat.
func (p *Pipeline) Preview(raw gocv.Mat, r Result) (gocv.Mat, error) {
	working, err := p.pre.Apply(raw)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "preview")
	}
	defer working.Close()

	return images.Annotate(working, images.Overlay{
		ShapesA:  r.ShapesA,
		ShapesB:  r.ShapesB,
		Origin:   p.origin,
		Midpoint: r.Estimate.Midpoint,
	}), nil
}

// landmarks segments, denoises and extracts the shapes of one class.
func (p *Pipeline) landmarks(hsv gocv.Mat, cr config.ColorRange) ([]images.BoundaryShape, int) {
	done := p.stage(profiler.StageSegment)
	mask := images.Segment(hsv, cr)
	done()
	defer mask.Close()

	done = p.stage(profiler.StageDenoise)
	clean := p.denoiser.Apply(mask)
	done()
	defer clean.Close()

	done = p.stage(profiler.StageBoundary)
	shapes := p.extractor.Extract(clean)
	done()

	return shapes, images.MaskArea(clean)
}

func (p *Pipeline) stage(name string) func() {
	if p.prof == nil {
		return func() {}
	}
	return p.prof.StartOperation(name)
}
