package images

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Annotation colors, matching the landmark they outline.
var (
	ColorClassA   = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	ColorClassB   = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	ColorHeading  = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	ColorMidpoint = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Overlay is everything drawn on a preview of one cycle.
type Overlay struct {
	ShapesA  []BoundaryShape
	ShapesB  []BoundaryShape
	Origin   gocv.Point2f
	Midpoint gocv.Point2f
}

// Annotate draws polygons, bounding rectangles and enclosing circles of both
// classes plus the origin-to-midpoint heading line on a copy of working.
// The caller must Close the result.
func Annotate(working gocv.Mat, o Overlay) gocv.Mat {
	out := working.Clone()

	drawShapes(&out, o.ShapesA, ColorClassA)
	drawShapes(&out, o.ShapesB, ColorClassB)

	origin := roundPoint(o.Origin)
	mid := roundPoint(o.Midpoint)
	gocv.Line(&out, origin, mid, ColorHeading, 5)
	gocv.Circle(&out, mid, 4, ColorMidpoint, -1)

	return out
}

func drawShapes(img *gocv.Mat, shapes []BoundaryShape, c color.RGBA) {
	if len(shapes) == 0 {
		return
	}

	polys := make([][]image.Point, 0, len(shapes))
	for _, s := range shapes {
		polys = append(polys, s.Polygon)
	}
	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()

	for i, s := range shapes {
		gocv.DrawContours(img, pv, i, c, 1)
		gocv.Rectangle(img, s.Bounds, c, 2)
		gocv.Circle(img, roundPoint(s.Center), int(s.Radius), c, 2)
	}
}

func roundPoint(p gocv.Point2f) image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}
