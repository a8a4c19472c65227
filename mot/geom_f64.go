package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned box in pixel coordinates (top-left corner + size)
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// NewRect creates rectangle from top-left corner and size
func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectXYXY creates rectangle from two corners (x1, y1) - top-left, (x2, y2) - bottom-right
func NewRectXYXY(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// NewRectFrom converts image.Rectangle
func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

// XYXY returns corners of rectangle
func (r Rectangle) XYXY() (float64, float64, float64, float64) {
	return r.X, r.Y, r.X + r.Width, r.Y + r.Height
}

// Center returns center of rectangle
func (r Rectangle) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

// Diagonal returns length of rectangle's diagonal
func (r Rectangle) Diagonal() float64 {
	return math.Sqrt(r.Width*r.Width + r.Height*r.Height)
}

// IoU calculates Intersection over Union between two rectangles.
// Degenerate rectangles (zero or negative area) give 0.
func (r Rectangle) IoU(other Rectangle) float64 {
	xA := math.Max(r.X, other.X)
	yA := math.Max(r.Y, other.Y)
	xB := math.Min(r.X+r.Width, other.X+other.Width)
	yB := math.Min(r.Y+r.Height, other.Y+other.Height)

	interArea := math.Max(0, xB-xA) * math.Max(0, yB-yA)
	if interArea == 0 {
		return 0.0
	}
	union := r.Width*r.Height + other.Width*other.Height - interArea
	if union <= 0 {
		return 0.0
	}
	return interArea / union
}

// Point is 2D point in pixel coordinates
type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Hypot(p1.X-p2.X, p1.Y-p2.Y)
}
