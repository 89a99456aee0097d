package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-lanekeeper/framebuffer"
	"github.com/nvr-ai/go-lanekeeper/lane"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
	"github.com/nvr-ai/go-lanekeeper/profiler"
	"github.com/nvr-ai/go-lanekeeper/recorder"
)

// Steering is the output of one completed cycle.
type Steering struct {
	// Angle is the steering angle in radians.
	Angle float64 `json:"angle"`
	// Sampled is the capture time of the frame the angle was computed from.
	Sampled     time.Time `json:"sampled"`
	SenderStamp uint32    `json:"sender_stamp"`
	Seq         uint64    `json:"seq"`
	// Detected is false when at least one class fell back.
	Detected bool `json:"detected"`
}

// Publisher delivers steering angles to the actuation layer.
type Publisher interface {
	Publish(ctx context.Context, s Steering) error
}

// Recorder persists cycle diagnostics.
type Recorder interface {
	Record(ctx context.Context, r recorder.Record) error
}

// LoopOptions configures the optional side outputs of a Loop.
type LoopOptions struct {
	SenderStamp uint32
	// Verbose logs per-cycle diagnostics at debug level.
	Verbose  bool
	Recorder Recorder
	Preview  PreviewSink
	Profiler *profiler.Profiler
}

// LoopStats counts cycle outcomes.
type LoopStats struct {
	Cycles          uint64 `json:"cycles"`
	Failed          uint64 `json:"failed"`
	PublishFailures uint64 `json:"publish_failures"`
	Fallbacks       uint64 `json:"fallbacks"`
}

// Loop waits for frames and runs one pipeline cycle per new frame.
type Loop struct {
	source    framebuffer.Source
	pipeline  *Pipeline
	publisher Publisher
	opts      LoopOptions

	cycles          atomic.Uint64
	failed          atomic.Uint64
	publishFailures atomic.Uint64
	fallbacks       atomic.Uint64
	last            atomic.Pointer[Steering]
}

// NewLoop wires a frame source, a pipeline and a publisher. publisher may be
// nil to run without output.
func NewLoop(source framebuffer.Source, pipeline *Pipeline, publisher Publisher, opts LoopOptions) *Loop {
	return &Loop{
		source:    source,
		pipeline:  pipeline,
		publisher: publisher,
		opts:      opts,
	}
}

// Run processes frames until ctx is cancelled or the source fails. A cycle
// in progress when ctx is cancelled runs to completion.
//
// Returns:
//   - error: nil on cancellation, otherwise the source error.
func (l *Loop) Run(ctx context.Context) error {
	w, h, _ := l.source.Dimensions()
	if err := l.pipeline.Validate(w, h); err != nil {
		return err
	}
	monitoring.L().Info("estimation loop started", "width", w, "height", h)

	for {
		if err := l.source.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				monitoring.L().Info("estimation loop stopped", "cycles", l.cycles.Load())
				return nil
			}
			return errors.Wrap(err, "wait for frame")
		}

		frame, err := l.source.Snapshot()
		if err != nil {
			return errors.Wrap(err, "snapshot frame")
		}

		l.cycle(context.WithoutCancel(ctx), frame)
	}
}

func (l *Loop) cycle(ctx context.Context, frame framebuffer.Frame) {
	log := monitoring.L()

	result, err := l.pipeline.ProcessFrame(frame)
	if err != nil {
		l.failed.Add(1)
		log.Warn("cycle failed", "seq", frame.Seq, "error", err)
		return
	}
	l.cycles.Add(1)

	est := result.Estimate
	st := Steering{
		Angle:       est.Angle,
		Sampled:     frame.Captured,
		SenderStamp: l.opts.SenderStamp,
		Seq:         frame.Seq,
		Detected:    est.Detected(),
	}
	l.last.Store(&st)
	if !st.Detected {
		l.fallbacks.Add(1)
	}

	if l.publisher != nil {
		start := time.Now()
		if err := l.publisher.Publish(ctx, st); err != nil {
			l.publishFailures.Add(1)
			log.Warn("publish failed", "seq", frame.Seq, "error", err)
		}
		if l.opts.Profiler != nil {
			l.opts.Profiler.RecordDuration(profiler.StagePublish, time.Since(start))
		}
	}

	if l.opts.Verbose {
		log.Debug("cycle",
			"seq", frame.Seq,
			"class_a", est.A.String(),
			"class_b", est.B.String(),
			"separation", lane.Separation(est.A, est.B),
			"midpoint_x", est.Midpoint.X,
			"midpoint_y", est.Midpoint.Y,
			"projected_x", est.Projected.X,
			"projected_y", est.Projected.Y,
			"angle", est.Angle,
		)
	}

	if l.opts.Recorder != nil {
		if err := l.opts.Recorder.Record(ctx, toRecord(frame, result)); err != nil {
			log.Warn("record failed", "seq", frame.Seq, "error", err)
		}
	}

	if l.opts.Preview != nil {
		if err := l.preview(frame, result); err != nil {
			log.Warn("preview failed", "seq", frame.Seq, "error", err)
		}
	}

	if l.opts.Profiler != nil {
		l.opts.Profiler.RecordDuration(profiler.StageCycle, result.Duration)
		l.opts.Profiler.RecordMetric("angle", est.Angle)
	}
}

func (l *Loop) preview(frame framebuffer.Frame, result Result) error {
	raw, err := frame.Mat()
	if err != nil {
		return err
	}
	defer raw.Close()

	img, err := l.pipeline.Preview(raw, result)
	if err != nil {
		return err
	}
	defer img.Close()
	return l.opts.Preview.Show(frame.Seq, img)
}

// Last returns the most recent steering output.
func (l *Loop) Last() (Steering, bool) {
	st := l.last.Load()
	if st == nil {
		return Steering{}, false
	}
	return *st, true
}

// Stats returns the cycle counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Cycles:          l.cycles.Load(),
		Failed:          l.failed.Load(),
		PublishFailures: l.publishFailures.Load(),
		Fallbacks:       l.fallbacks.Load(),
	}
}

// CollectMetrics implements profiler.MetricsCollector.
func (l *Loop) CollectMetrics() map[string]float64 {
	s := l.Stats()
	return map[string]float64{
		"cycles":           float64(s.Cycles),
		"failed_cycles":    float64(s.Failed),
		"publish_failures": float64(s.PublishFailures),
		"fallback_cycles":  float64(s.Fallbacks),
	}
}

func toRecord(frame framebuffer.Frame, r Result) recorder.Record {
	est := r.Estimate
	return recorder.Record{
		Seq:        frame.Seq,
		Captured:   frame.Captured,
		Angle:      est.Angle,
		AX:         est.A.Point.X,
		AY:         est.A.Point.Y,
		AShapes:    est.A.Shapes,
		AFallback:  est.A.Fallback,
		BX:         est.B.Point.X,
		BY:         est.B.Point.Y,
		BShapes:    est.B.Shapes,
		BFallback:  est.B.Fallback,
		MidX:       est.Midpoint.X,
		MidY:       est.Midpoint.Y,
		Separation: lane.Separation(est.A, est.B),
		Lateral:    est.Local.X,
		Duration:   r.Duration,
	}
}
