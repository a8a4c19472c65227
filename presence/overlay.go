package presence

import (
	"fmt"
	"image"
	"math"
)

// BoxAnnotation is bounding box with label to be drawn for current detection
type BoxAnnotation struct {
	TrackID int64
	Rect    image.Rectangle
	Label   string
	LabelAt image.Point
}

// TextAnnotation is summary text to be drawn at given position
type TextAnnotation struct {
	Text string
	At   image.Point
}

// Overlay is everything drawing layer needs to annotate frame
type Overlay struct {
	Boxes []BoxAnnotation
	FPS   TextAnnotation
	Count TextAnnotation
}

// pixel truncates coordinate to int32 range accepted by drawing backends
func pixel(v float64) int {
	return int(math.Trunc(math.Max(math.MinInt32+10, math.Min(math.MaxInt32, v))))
}

func newBoxAnnotation(trackID int64, className string, box Box) BoxAnnotation {
	x1, y1 := pixel(box.X1), pixel(box.Y1)
	x2, y2 := pixel(box.X2), pixel(box.Y2)
	return BoxAnnotation{
		TrackID: trackID,
		Rect:    image.Rect(x1, y1, x2, y2),
		Label:   fmt.Sprintf("%s ID:%d", className, trackID),
		LabelAt: image.Pt(x1, y1-10),
	}
}

func newSummaryText(fps float64, objects int) (TextAnnotation, TextAnnotation) {
	return TextAnnotation{Text: fmt.Sprintf("FPS: %.1f", fps), At: image.Pt(10, 30)},
		TextAnnotation{Text: fmt.Sprintf("Objects: %d", objects), At: image.Pt(10, 60)}
}
