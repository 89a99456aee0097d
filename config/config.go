// Package config - Startup configuration for the lane-centering estimator.
//
// Configuration is loaded once, validated once and read-only afterwards. Every
// validation failure wraps ErrInvalidConfig and is fatal for the process.
package config

import (
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrInvalidConfig is the root of every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Channel bounds of 8-bit OpenCV HSV.
const (
	MaxHue        = 180
	MaxSaturation = 255
	MaxValue      = 255
)

// KernelShape names the structuring element used by the denoiser.
type KernelShape string

const (
	// KernelRect is the 3x3 square element (OpenCV default for dilate/erode).
	KernelRect KernelShape = "rect"
	// KernelCross is the 3x3 cross element.
	KernelCross KernelShape = "cross"
)

// Retrieval names the contour hierarchy mode of the boundary extractor.
type Retrieval string

const (
	// RetrievalExternal keeps outer boundaries only.
	RetrievalExternal Retrieval = "external"
	// RetrievalTree keeps every boundary including holes.
	RetrievalTree Retrieval = "tree"
)

// SignConvention fixes which steering direction is positive.
type SignConvention string

const (
	// LeftPositive reports a positive angle when the lane midpoint lies left of the vehicle axis.
	LeftPositive SignConvention = "left-positive"
	// RightPositive reports a positive angle when the lane midpoint lies right of the vehicle axis.
	RightPositive SignConvention = "right-positive"
)

// ColorRange is an inclusive HSV box describing one landmark class.
type ColorRange struct {
	// Name labels the class in logs and diagnostics (e.g. "blue").
	Name string
	// Low is the inclusive lower bound (H, S, V).
	Low [3]uint8
	// High is the inclusive upper bound (H, S, V).
	High [3]uint8
}

// LowScalar returns the lower bound as a gocv scalar.
func (c ColorRange) LowScalar() gocv.Scalar {
	return gocv.NewScalar(float64(c.Low[0]), float64(c.Low[1]), float64(c.Low[2]), 0)
}

// HighScalar returns the upper bound as a gocv scalar.
func (c ColorRange) HighScalar() gocv.Scalar {
	return gocv.NewScalar(float64(c.High[0]), float64(c.High[1]), float64(c.High[2]), 0)
}

// Contains reports whether the HSV triple lies inside the range on every channel.
func (c ColorRange) Contains(h, s, v uint8) bool {
	px := [3]uint8{h, s, v}
	for i := range px {
		if px[i] < c.Low[i] || px[i] > c.High[i] {
			return false
		}
	}
	return true
}

func (c ColorRange) String() string {
	return c.Name + "[" + formatTriple(c.Low) + " .. " + formatTriple(c.High) + "]"
}

// Validate checks channel bounds and ordering.
func (c ColorRange) Validate() error {
	if c.Low[0] > MaxHue || c.High[0] > MaxHue {
		return errors.Wrapf(ErrInvalidConfig, "color range %q: hue exceeds %d", c.Name, MaxHue)
	}
	for i := 0; i < 3; i++ {
		if c.Low[i] > c.High[i] {
			return errors.Wrapf(ErrInvalidConfig, "color range %q: channel %d low %d > high %d",
				c.Name, i, c.Low[i], c.High[i])
		}
	}
	return nil
}

// ParseColorRange builds a ColorRange from two "h,s,v" literals.
//
// Arguments:
//   - name: Class label.
//   - low: Lower bound literal, e.g. "110,50,50".
//   - high: Upper bound literal, e.g. "130,255,255".
//
// Returns:
//   - ColorRange: The validated range.
//   - error: Wrapping ErrInvalidConfig when a literal is malformed.
func ParseColorRange(name, low, high string) (ColorRange, error) {
	lo, err := parseTriple(low)
	if err != nil {
		return ColorRange{}, errors.Wrapf(err, "color range %q low", name)
	}
	hi, err := parseTriple(high)
	if err != nil {
		return ColorRange{}, errors.Wrapf(err, "color range %q high", name)
	}
	cr := ColorRange{Name: name, Low: lo, High: hi}
	if err := cr.Validate(); err != nil {
		return ColorRange{}, err
	}
	return cr, nil
}

func parseTriple(s string) ([3]uint8, error) {
	var out [3]uint8
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, errors.Wrapf(ErrInvalidConfig, "literal %q must have 3 comma separated values", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, errors.Wrapf(ErrInvalidConfig, "literal %q: %v", s, err)
		}
		if v < 0 || v > 255 {
			return out, errors.Wrapf(ErrInvalidConfig, "literal %q: value %d out of 0..255", s, v)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func formatTriple(t [3]uint8) string {
	return strconv.Itoa(int(t[0])) + "," + strconv.Itoa(int(t[1])) + "," + strconv.Itoa(int(t[2]))
}

// FrameConfig describes the raw frames delivered by the frame source.
type FrameConfig struct {
	Width    int
	Height   int
	Channels int
}

// Validate checks that the frame geometry is usable.
func (f FrameConfig) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "frame size %dx%d must be positive", f.Width, f.Height)
	}
	if f.Channels != 3 && f.Channels != 4 {
		return errors.Wrapf(ErrInvalidConfig, "frame channels must be 3 or 4, got %d", f.Channels)
	}
	return nil
}

// Occlusion is the filled ellipse painted over vehicle structure in the working frame.
// A zero Axes disables it.
type Occlusion struct {
	Center image.Point
	Axes   image.Point
}

// Enabled reports whether the ellipse has a non-zero extent.
func (o Occlusion) Enabled() bool {
	return o.Axes.X > 0 && o.Axes.Y > 0
}

// PipelineConfig holds every tunable of the perception-to-angle pipeline.
type PipelineConfig struct {
	// Crop is the region of the raw frame kept for processing.
	Crop image.Rectangle
	// WorkingSize is the (width, height) the crop is resized to.
	WorkingSize image.Point
	// Occlusion masks vehicle structure visible in the working frame.
	Occlusion Occlusion
	// ClassA is the first landmark class (left boundary, "blue").
	ClassA ColorRange
	// ClassB is the second landmark class (right boundary, "yellow").
	ClassB ColorRange
	// Dilate is the number of dilation passes.
	Dilate int
	// Erode is the number of erosion passes after dilation.
	Erode int
	// Kernel is the structuring element shape.
	Kernel KernelShape
	// CannyLow and CannyHigh are the hysteresis thresholds of the edge detector.
	CannyLow  float32
	CannyHigh float32
	// Retrieval selects outer-only or full contour hierarchy.
	Retrieval Retrieval
	// ApproxEpsilon is the polygon simplification tolerance in pixels.
	ApproxEpsilon float64
	// LookAhead is the longitudinal distance, in working-frame pixels, the midpoint is projected to.
	LookAhead float64
	// Origin is the image point of the vehicle's forward axis.
	Origin gocv.Point2f
	// FallbackA and FallbackB replace a class centroid when the class is not detected.
	FallbackA gocv.Point2f
	FallbackB gocv.Point2f
	// Sign fixes the positive steering direction.
	Sign SignConvention
}

// Validate checks the pipeline tunables against the raw frame geometry. It is run
// once at startup; the pipeline does not re-check per cycle.
func (p PipelineConfig) Validate(frame FrameConfig) error {
	if p.Crop.Empty() || p.Crop.Dx() <= 0 || p.Crop.Dy() <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "crop rectangle %v is empty", p.Crop)
	}
	bounds := image.Rect(0, 0, frame.Width, frame.Height)
	if !p.Crop.In(bounds) {
		return errors.Wrapf(ErrInvalidConfig, "crop rectangle %v exceeds frame bounds %v", p.Crop, bounds)
	}
	if p.WorkingSize.X <= 0 || p.WorkingSize.Y <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "working size %v must be positive", p.WorkingSize)
	}
	if p.Occlusion.Axes.X < 0 || p.Occlusion.Axes.Y < 0 {
		return errors.Wrapf(ErrInvalidConfig, "occlusion axes %v must not be negative", p.Occlusion.Axes)
	}
	if err := p.ClassA.Validate(); err != nil {
		return err
	}
	if err := p.ClassB.Validate(); err != nil {
		return err
	}
	if p.Dilate < 0 || p.Erode < 0 {
		return errors.Wrapf(ErrInvalidConfig, "dilate (%d) and erode (%d) must not be negative", p.Dilate, p.Erode)
	}
	switch p.Kernel {
	case KernelRect, KernelCross:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown kernel shape %q", p.Kernel)
	}
	if !finite32(p.CannyLow) || !finite32(p.CannyHigh) || p.CannyLow < 0 || p.CannyHigh < 0 || p.CannyLow > p.CannyHigh {
		return errors.Wrapf(ErrInvalidConfig, "canny thresholds %v/%v must satisfy 0 <= low <= high", p.CannyLow, p.CannyHigh)
	}
	switch p.Retrieval {
	case RetrievalExternal, RetrievalTree:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown contour retrieval %q", p.Retrieval)
	}
	if math.IsNaN(p.ApproxEpsilon) || math.IsInf(p.ApproxEpsilon, 0) || p.ApproxEpsilon < 0 {
		return errors.Wrapf(ErrInvalidConfig, "approx epsilon %v must be finite and not negative", p.ApproxEpsilon)
	}
	// Zero divides by zero in the angle computation; +Inf flattens every angle to 0.
	if !(p.LookAhead > 0) || math.IsInf(p.LookAhead, 1) {
		return errors.Wrapf(ErrInvalidConfig, "look-ahead distance %v must be positive and finite", p.LookAhead)
	}
	points := []struct {
		name string
		pt   gocv.Point2f
	}{
		{"origin", p.Origin},
		{"fallback a", p.FallbackA},
		{"fallback b", p.FallbackB},
	}
	for _, np := range points {
		if !finite32(np.pt.X) || !finite32(np.pt.Y) {
			return errors.Wrapf(ErrInvalidConfig, "%s %v must be finite", np.name, np.pt)
		}
	}
	switch p.Sign {
	case LeftPositive, RightPositive:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown sign convention %q", p.Sign)
	}
	return nil
}

func finite32(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

// TransportConfig configures the OD4 session.
type TransportConfig struct {
	// CID is the conference id; the multicast group is 225.0.0.<CID>. Zero disables the session.
	CID int
	// SenderStamp tags every published envelope.
	SenderStamp uint32
	// SteeringRequest additionally publishes a GroundSteeringRequest per cycle.
	SteeringRequest bool
}

// LogConfig configures the monitoring logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the whole process configuration.
type Config struct {
	Frame     FrameConfig
	Pipeline  PipelineConfig
	Transport TransportConfig
	Log       LogConfig
	// StatusAddr is the listen address of the status API. Empty disables it.
	StatusAddr string
	// RecordPath is the SQLite file receiving per-cycle diagnostics. Empty disables it.
	RecordPath string
	// PreviewDir receives annotated working frames when Verbose is set. Empty disables it.
	PreviewDir string
	// Verbose enables per-cycle diagnostics.
	Verbose bool
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Frame.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(c.Frame); err != nil {
		return err
	}
	if c.Transport.CID < 0 || c.Transport.CID > 255 {
		return errors.Wrapf(ErrInvalidConfig, "cid %d out of 0..255", c.Transport.CID)
	}
	return nil
}
