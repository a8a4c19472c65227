package presence

import (
	"math"

	"github.com/pkg/errors"
)

// UnknownClass is the label used when class index is out of class table range
const UnknownClass = "unknown"

// Box is bounding box in pixel coordinates: (X1, Y1) - top-left corner, (X2, Y2) - bottom-right corner
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid returns false for boxes with non-finite or inverted coordinates
func (b Box) Valid() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Detection is a single tracked object reported by detection-and-tracking engine for one frame
type Detection struct {
	// Stable identity assigned by the tracker
	TrackID int64
	Box     Box
	// Index in the class table
	ClassIndex int
	// Consumed by the tracker only, kept for reporting
	Confidence float64
}

// ClassTable maps class index to human-readable class name.
// It is supplied once by the tracker at initialization.
type ClassTable []string

// Name resolves class index. For unknown index it returns UnknownClass together with ErrInvalidClassIndex
func (t ClassTable) Name(classIndex int) (string, error) {
	if classIndex < 0 || classIndex >= len(t) {
		return UnknownClass, errors.Wrapf(ErrInvalidClassIndex, "class index %d (table size %d)", classIndex, len(t))
	}
	return t[classIndex], nil
}
