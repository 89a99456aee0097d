package lane

import (
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/images"
)

func shapeAt(x, y, r float32) images.BoundaryShape {
	return images.BoundaryShape{Center: gocv.Point2f{X: x, Y: y}, Radius: r}
}

func TestAggregate(t *testing.T) {
	fallback := gocv.Point2f{X: -300, Y: 150}

	tests := []struct {
		name   string
		shapes []images.BoundaryShape
		want   Centroid
	}{
		{
			name: "empty uses fallback",
			want: Centroid{Point: fallback, Fallback: true},
		},
		{
			name:   "single shape",
			shapes: []images.BoundaryShape{shapeAt(150, 100, 25)},
			want:   Centroid{Point: gocv.Point2f{X: 150, Y: 100}, Shapes: 1},
		},
		{
			name:   "mean of centers",
			shapes: []images.BoundaryShape{shapeAt(100, 50, 10), shapeAt(200, 150, 30)},
			want:   Centroid{Point: gocv.Point2f{X: 150, Y: 100}, Shapes: 2},
		},
		{
			name:   "zero radius counts",
			shapes: []images.BoundaryShape{shapeAt(0, 0, 0), shapeAt(30, 60, 5), shapeAt(60, 30, 0)},
			want:   Centroid{Point: gocv.Point2f{X: 30, Y: 30}, Shapes: 3},
		},
		{
			name:   "non-finite centers are skipped",
			shapes: []images.BoundaryShape{shapeAt(math32.NaN(), 1, 1), shapeAt(40, 20, 1)},
			want:   Centroid{Point: gocv.Point2f{X: 40, Y: 20}, Shapes: 1},
		},
		{
			name:   "only non-finite centers fall back",
			shapes: []images.BoundaryShape{shapeAt(math32.Inf(1), 1, 1)},
			want:   Centroid{Point: fallback, Fallback: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.shapes, fallback))
		})
	}
}

func TestMidpointAndSeparation(t *testing.T) {
	a := Centroid{Point: gocv.Point2f{X: 150, Y: 100}}
	b := Centroid{Point: gocv.Point2f{X: 450, Y: 140}}

	assert.Equal(t, gocv.Point2f{X: 300, Y: 120}, Midpoint(a.Point, b.Point))
	assert.InDelta(t, 302.655, Separation(a, b), 0.01)
}

func TestToVehicleAndProject(t *testing.T) {
	origin := gocv.Point2f{X: 300, Y: 210}

	local := ToVehicle(gocv.Point2f{X: 250, Y: 60}, origin)
	assert.Equal(t, r2.Vec{X: -50, Y: 150}, local)

	assert.Equal(t, r2.Vec{X: -50, Y: 75}, Project(local, 75))
}

func TestAngleSignConvention(t *testing.T) {
	left := r2.Vec{X: -150, Y: 150}

	assert.InDelta(t, math.Pi/4, Angle(left, config.LeftPositive), 1e-12)
	assert.InDelta(t, -math.Pi/4, Angle(left, config.RightPositive), 1e-12)
	assert.InDelta(t, 0, Angle(r2.Vec{Y: 150}, config.LeftPositive), 0)
}

func TestEstimateSymmetricIsStraight(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)

	// Vertical offsets of the centroids do not matter.
	for _, ys := range [][2]float32{{100, 100}, {20, 200}, {180, 5}} {
		got := e.Estimate(
			[]images.BoundaryShape{shapeAt(100, ys[0], 10)},
			[]images.BoundaryShape{shapeAt(500, ys[1], 10)},
		)
		assert.True(t, got.Detected())
		assert.InDelta(t, 0, got.Angle, 1e-12, "ys=%v", ys)
		assert.InDelta(t, 0, got.Local.X, 1e-9)
		assert.Equal(t, 150.0, got.Projected.Y)
	}
}

func TestEstimateAngleIsBounded(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)

	for _, xs := range [][2]float32{{0, 0}, {0, 600}, {599, 599}, {-5000, -4000}, {1e6, 1e6}} {
		got := e.Estimate(
			[]images.BoundaryShape{shapeAt(xs[0], 100, 1)},
			[]images.BoundaryShape{shapeAt(xs[1], 100, 1)},
		)
		assert.False(t, math.IsNaN(got.Angle))
		assert.Greater(t, got.Angle, -math.Pi/2, "xs=%v", xs)
		assert.Less(t, got.Angle, math.Pi/2, "xs=%v", xs)
	}
}

func TestEstimateDirection(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)

	// Lane center right of the axis: steer right, negative when left-positive.
	right := e.Estimate(
		[]images.BoundaryShape{shapeAt(300, 100, 10)},
		[]images.BoundaryShape{shapeAt(500, 100, 10)},
	)
	assert.Equal(t, gocv.Point2f{X: 400, Y: 100}, right.Midpoint)
	assert.InDelta(t, math.Atan(-100.0/150.0), right.Angle, 1e-12)
}

func TestEstimateMissingClassFollowsFallbackSide(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)

	missingA := e.Estimate(nil, []images.BoundaryShape{shapeAt(450, 100, 25)})
	require.True(t, missingA.A.Fallback)
	assert.False(t, missingA.B.Fallback)
	assert.False(t, missingA.Detected())
	// Fallback A lies left of the axis, so the midpoint moves left.
	assert.Equal(t, gocv.Point2f{X: 75, Y: 125}, missingA.Midpoint)
	assert.Greater(t, missingA.Angle, 0.0)

	missingB := e.Estimate([]images.BoundaryShape{shapeAt(150, 100, 25)}, nil)
	require.True(t, missingB.B.Fallback)
	assert.Less(t, missingB.Angle, 0.0)
}

func TestEstimateTotalLossIsReproducible(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)

	first := e.Estimate(nil, nil)
	second := e.Estimate([]images.BoundaryShape{}, []images.BoundaryShape{})

	assert.Equal(t, first, second)
	assert.True(t, first.A.Fallback)
	assert.True(t, first.B.Fallback)
	assert.Equal(t, FallbackBias(config.Default().Pipeline), first.Angle)
}

func TestEstimateIsBitIdentical(t *testing.T) {
	e := NewEstimator(config.Default().Pipeline)
	a := []images.BoundaryShape{shapeAt(133.7, 91.2, 4), shapeAt(171.1, 120.9, 9)}
	b := []images.BoundaryShape{shapeAt(470.3, 88.8, 6)}

	want := e.Estimate(a, b)
	for i := 0; i < 10; i++ {
		got := e.Estimate(a, b)
		assert.Equal(t, math.Float64bits(want.Angle), math.Float64bits(got.Angle))
	}
}

func TestFallbackBias(t *testing.T) {
	cfg := config.Default().Pipeline
	assert.Equal(t, 0.0, FallbackBias(cfg), "default fallbacks must be symmetric")

	// Both fallbacks left of the axis.
	cfg.FallbackA = gocv.Point2f{X: 300, Y: 150}
	cfg.FallbackB = gocv.Point2f{X: -300, Y: 150}
	bias := FallbackBias(cfg)
	assert.NotZero(t, bias)
	assert.InDelta(t, math.Atan(2), bias, 1e-12)

	cfg.Sign = config.RightPositive
	assert.InDelta(t, -math.Atan(2), FallbackBias(cfg), 1e-12)
}
