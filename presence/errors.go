package presence

import "github.com/pkg/errors"

var (
	// ErrInvalidClassIndex is reported when class index is outside of class table. Not fatal: label falls back to UnknownClass
	ErrInvalidClassIndex = errors.New("invalid class index")
	// ErrMalformedDetection is reported for boxes with non-finite or inverted coordinates
	ErrMalformedDetection = errors.New("malformed detection")
	// ErrUpstreamTracker is returned when detection-and-tracking engine fails to produce output for a frame
	ErrUpstreamTracker = errors.New("upstream tracker failure")
)
