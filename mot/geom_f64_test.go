package mot

import (
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestEuclideanDistance(t *testing.T) {
	p1 := Point{X: 341, Y: 264}
	p2 := Point{X: 421, Y: 427}
	correnctAnswer := 181.57367
	answer := euclideanDistance(p1, p2)
	if math.Abs(answer-correnctAnswer) > eps {
		t.Errorf("Wrong answer: %v, correct answer: %v", answer, correnctAnswer)
	}
}

func TestRectXYXY(t *testing.T) {
	rect := NewRectXYXY(10, 20, 40, 60)
	if rect.Width != 30 || rect.Height != 40 {
		t.Errorf("Wrong size: %vx%v, expected: 30x40", rect.Width, rect.Height)
	}
	x1, y1, x2, y2 := rect.XYXY()
	if x1 != 10 || y1 != 20 || x2 != 40 || y2 != 60 {
		t.Errorf("Wrong corners: (%v, %v, %v, %v)", x1, y1, x2, y2)
	}
	center := rect.Center()
	if center.X != 25 || center.Y != 40 {
		t.Errorf("Wrong center: %+v, expected: {X:25 Y:40}", center)
	}
	if math.Abs(rect.Diagonal()-50.0) > eps {
		t.Errorf("Wrong diagonal: %v, expected: 50", rect.Diagonal())
	}
}

func TestIoU(t *testing.T) {
	r1 := NewRect(0, 0, 10, 10)
	r2 := NewRect(5, 5, 10, 10)
	// intersection 25, union 175
	correctAnswer := 25.0 / 175.0
	if answer := r1.IoU(r2); math.Abs(answer-correctAnswer) > eps {
		t.Errorf("Wrong IoU: %v, correct answer: %v", answer, correctAnswer)
	}
	if answer := r1.IoU(r1); math.Abs(answer-1.0) > eps {
		t.Errorf("IoU of rectangle with itself should be 1, got %v", answer)
	}
	if answer := r1.IoU(NewRect(100, 100, 10, 10)); answer != 0 {
		t.Errorf("IoU of disjoint rectangles should be 0, got %v", answer)
	}
}
