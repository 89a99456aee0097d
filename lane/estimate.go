package lane

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/images"
)

// ToVehicle maps an image-space point into the vehicle-local frame. X grows
// to the right and Y grows forward, away from the vehicle.
func ToVehicle(p, origin gocv.Point2f) r2.Vec {
	return r2.Vec{
		X: float64(p.X) - float64(origin.X),
		Y: float64(origin.Y) - float64(p.Y),
	}
}

// Project replaces the forward component of a vehicle-local point with the
// look-ahead distance. The lateral component is kept.
func Project(local r2.Vec, lookAhead float64) r2.Vec {
	return r2.Vec{X: local.X, Y: lookAhead}
}

// Angle returns the bearing of a projected point in radians. lookAhead must be
// positive so the result always lies in (-pi/2, pi/2).
func Angle(projected r2.Vec, sign config.SignConvention) float64 {
	lateral := projected.X
	if sign != config.RightPositive {
		lateral = -lateral
	}
	return math.Atan(lateral / projected.Y)
}

// Estimate is the outcome of one estimation cycle.
type Estimate struct {
	A        Centroid
	B        Centroid
	Midpoint gocv.Point2f
	// Local is Midpoint in the vehicle-local frame.
	Local r2.Vec
	// Projected is Local with its forward component set to the look-ahead.
	Projected r2.Vec
	// Angle is the steering angle in radians.
	Angle float64
}

// Detected reports whether both classes were found in the frame.
func (e Estimate) Detected() bool {
	return !e.A.Fallback && !e.B.Fallback
}

func (e Estimate) String() string {
	return fmt.Sprintf("a=%s b=%s mid=(%.1f,%.1f) proj=(%.1f,%.1f) angle=%.4f",
		e.A, e.B, e.Midpoint.X, e.Midpoint.Y, e.Projected.X, e.Projected.Y, e.Angle)
}

// Estimator computes steering angles. It holds only configuration and is
// safe for concurrent use.
type Estimator struct {
	origin    gocv.Point2f
	fallbackA gocv.Point2f
	fallbackB gocv.Point2f
	lookAhead float64
	sign      config.SignConvention
}

// NewEstimator creates an estimator from a validated pipeline configuration.
func NewEstimator(cfg config.PipelineConfig) *Estimator {
	return &Estimator{
		origin:    cfg.Origin,
		fallbackA: cfg.FallbackA,
		fallbackB: cfg.FallbackB,
		lookAhead: cfg.LookAhead,
		sign:      cfg.Sign,
	}
}

// Estimate aggregates both classes and computes the steering angle.
//
// Arguments:
//   - shapesA: Boundary shapes of class A. May be empty.
//   - shapesB: Boundary shapes of class B. May be empty.
//
// Returns:
//   - Estimate: Always populated; missing classes use their fallback.
func (e *Estimator) Estimate(shapesA, shapesB []images.BoundaryShape) Estimate {
	return e.FromCentroids(Aggregate(shapesA, e.fallbackA), Aggregate(shapesB, e.fallbackB))
}

// FromCentroids computes the steering angle for two already aggregated centroids.
func (e *Estimator) FromCentroids(a, b Centroid) Estimate {
	mid := Midpoint(a.Point, b.Point)
	local := ToVehicle(mid, e.origin)
	projected := Project(local, e.lookAhead)

	return Estimate{
		A:         a,
		B:         b,
		Midpoint:  mid,
		Local:     local,
		Projected: projected,
		Angle:     Angle(projected, e.sign),
	}
}

// FallbackBias is the angle produced when neither class is detected. It is
// zero only when the fallbacks are symmetric about the vehicle axis.
func FallbackBias(cfg config.PipelineConfig) float64 {
	e := NewEstimator(cfg)
	return e.Estimate(nil, nil).Angle
}
