// Package lane turns landmark boundaries into a steering angle.
//
// Two landmark classes mark the edges of the lane. Each class is reduced to a
// single centroid, the two centroids are averaged into a midpoint, and the
// midpoint is moved into a vehicle-local frame whose origin sits at the front
// axle (bottom center of the working frame). Replacing the forward component
// of that point with a fixed look-ahead distance gives a target whose bearing
// is the steering angle.
package lane

import (
	"fmt"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/images"
)

// Centroid is the representative point of one landmark class in image space.
type Centroid struct {
	Point gocv.Point2f
	// Shapes is the number of boundary shapes averaged into Point.
	Shapes int
	// Fallback is set when no shape was found and Point is the configured
	// fallback.
	Fallback bool
}

func (c Centroid) String() string {
	if c.Fallback {
		return fmt.Sprintf("(%.1f,%.1f) fallback", c.Point.X, c.Point.Y)
	}
	return fmt.Sprintf("(%.1f,%.1f) n=%d", c.Point.X, c.Point.Y, c.Shapes)
}

// Aggregate reduces the boundary shapes of one class to a centroid.
//
// Arguments:
//   - shapes: Boundary shapes of one class, in any order.
//   - fallback: The point used when shapes is empty.
//
// Returns:
//   - Centroid: The arithmetic mean of the enclosing-circle centers, or the
//     fallback flagged as such. Zero-radius circles count like any other.
func Aggregate(shapes []images.BoundaryShape, fallback gocv.Point2f) Centroid {
	var sumX, sumY float32
	n := 0
	for _, s := range shapes {
		if !finite(s.Center) {
			continue
		}
		sumX += s.Center.X
		sumY += s.Center.Y
		n++
	}

	if n == 0 {
		return Centroid{Point: fallback, Fallback: true}
	}

	mean := gocv.Point2f{X: sumX / float32(n), Y: sumY / float32(n)}
	if !finite(mean) {
		return Centroid{Point: fallback, Fallback: true}
	}
	return Centroid{Point: mean, Shapes: n}
}

// Midpoint returns the mean of two image-space points.
func Midpoint(a, b gocv.Point2f) gocv.Point2f {
	return gocv.Point2f{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Separation is the image-space distance between two centroids.
func Separation(a, b Centroid) float32 {
	return math32.Hypot(b.Point.X-a.Point.X, b.Point.Y-a.Point.Y)
}

func finite(p gocv.Point2f) bool {
	return !math32.IsNaN(p.X) && !math32.IsNaN(p.Y) && !math32.IsInf(p.X, 0) && !math32.IsInf(p.Y, 0)
}
