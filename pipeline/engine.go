// Package pipeline glues detection-and-tracking engines, the presence manager and reporters together.
package pipeline

import (
	"context"

	"github.com/LdDl/mot-presence/mot"
	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
)

// Engine is detection-and-tracking engine: for every frame it returns objects
// with stable identities. F is the frame type the engine consumes (e.g. decoded
// image or replay frame number).
type Engine[F any] interface {
	Track(ctx context.Context, frame F) ([]presence.Detection, error)
	// Classes returns class table. It must not change during engine lifetime
	Classes() presence.ClassTable
}

// Detector proposes anonymous boxes for the frame. Identities are assigned by mot.Tracker afterwards
type Detector[F any] interface {
	Detect(ctx context.Context, frame F) ([]*mot.Blob, error)
}

// TrackerEngine is Engine built from detector and multi-object tracker
type TrackerEngine[F any] struct {
	detector Detector[F]
	tracker  mot.Tracker
	classes  presence.ClassTable
}

// NewTrackerEngine creates engine. Class indices produced by detector must refer to classes
func NewTrackerEngine[F any](detector Detector[F], tracker mot.Tracker, classes presence.ClassTable) *TrackerEngine[F] {
	return &TrackerEngine[F]{
		detector: detector,
		tracker:  tracker,
		classes:  classes,
	}
}

// Track detects objects on the frame and associates them with existing tracks
func (engine *TrackerEngine[F]) Track(ctx context.Context, frame F) ([]presence.Detection, error) {
	blobs, err := engine.detector.Detect(ctx, frame)
	if err != nil {
		return nil, errors.Wrap(err, "detect")
	}
	if err := engine.tracker.MatchObjects(blobs); err != nil {
		return nil, errors.Wrap(err, "match objects")
	}
	return FromBlobs(engine.tracker.Tracked()), nil
}

// Classes returns class table
func (engine *TrackerEngine[F]) Classes() presence.ClassTable {
	return engine.classes
}

// FromBlobs converts tracked blobs into detections
func FromBlobs(blobs []*mot.Blob) []presence.Detection {
	detections := make([]presence.Detection, 0, len(blobs))
	for _, blob := range blobs {
		x1, y1, x2, y2 := blob.GetBBox().XYXY()
		detections = append(detections, presence.Detection{
			TrackID:    blob.GetTrackID(),
			Box:        presence.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
			ClassIndex: blob.GetClassID(),
			Confidence: blob.GetConfidence(),
		})
	}
	return detections
}
