package images

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/config"
)

// BoundaryShape is the simplified outline of one connected region.
type BoundaryShape struct {
	// Polygon is the contour after polygon approximation.
	Polygon []image.Point
	// Bounds is the bounding rectangle of Polygon.
	Bounds image.Rectangle
	// Center is the center of the minimal enclosing circle of Polygon.
	Center gocv.Point2f
	// Radius is the radius of the minimal enclosing circle. It may be zero.
	Radius float32
}

// BoundaryExtractor turns a denoised mask into boundary shapes.
type BoundaryExtractor struct {
	low     float32
	high    float32
	mode    gocv.RetrievalMode
	epsilon float64
}

// NewBoundaryExtractor creates an extractor from the pipeline configuration.
func NewBoundaryExtractor(cfg config.PipelineConfig) *BoundaryExtractor {
	mode := gocv.RetrievalExternal
	if cfg.Retrieval == config.RetrievalTree {
		mode = gocv.RetrievalTree
	}
	return &BoundaryExtractor{
		low:     cfg.CannyLow,
		high:    cfg.CannyHigh,
		mode:    mode,
		epsilon: cfg.ApproxEpsilon,
	}
}

// Edges runs the Canny detector over mask. The caller must Close the result.
func (b *BoundaryExtractor) Edges(mask gocv.Mat) gocv.Mat {
	edges := gocv.NewMat()
	gocv.Canny(mask, &edges, b.low, b.high)
	return edges
}

// Extract returns the boundary shapes of the connected regions of mask, in
// contour order. An empty mask yields an empty, non-nil slice. All native
// memory is released before returning.
func (b *BoundaryExtractor) Extract(mask gocv.Mat) []BoundaryShape {
	edges := b.Edges(mask)
	defer edges.Close()

	contours := gocv.FindContours(edges, b.mode, gocv.ChainApproxSimple)
	defer contours.Close()

	shapes := make([]BoundaryShape, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		shapes = append(shapes, b.describe(contours.At(i)))
	}
	return shapes
}

// describe simplifies one contour before measuring it. The simplification
// keeps the enclosing circle stable under single-pixel jitter.
func (b *BoundaryExtractor) describe(contour gocv.PointVector) BoundaryShape {
	approx := gocv.ApproxPolyDP(contour, b.epsilon, true)
	defer approx.Close()

	x, y, r := gocv.MinEnclosingCircle(approx)
	return BoundaryShape{
		Polygon: approx.ToPoints(),
		Bounds:  gocv.BoundingRect(approx),
		Center:  gocv.Point2f{X: x, Y: y},
		Radius:  r,
	}
}
