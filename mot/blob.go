package mot

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Blob is a single detection or tracked object.
// Bounding box dynamics are smoothed by 8-D Kalman filter.
// State vector: [cx, cy, w, h, vx, vy, vw, vh] - center position, size, and velocities.
//
// Freshly created blob is anonymous (track ID is zero). Tracker assigns integer
// track ID when blob is registered as a new object.
type Blob struct {
	uid           uuid.UUID
	trackID       int64
	classID       int
	confidence    float64
	currentBBox   Rectangle
	predictedBBox Rectangle
	track         []Point
	maxTrackLen   int
	active        bool
	noMatchTimes  int
	hits          int
	tracker       *kalman_filter.KalmanBBox
}

// NewBlobWithTime creates a new Blob with specified time step.
func NewBlobWithTime(currentBbox Rectangle, classID int, confidence float64, dt float64) *Blob {
	center := currentBbox.Center()

	// Kalman filter props
	uCx := 1.0
	uCy := 1.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, currentBbox.Width, currentBbox.Height),
	)

	blob := Blob{
		uid:           uuid.New(),
		classID:       classID,
		confidence:    confidence,
		currentBBox:   currentBbox,
		predictedBBox: currentBbox,
		track:         make([]Point, 0, 150),
		maxTrackLen:   150,
		active:        false,
		noMatchTimes:  0,
		hits:          1,
		tracker:       kf,
	}
	blob.track = append(blob.track, center)
	return &blob
}

// NewBlob creates a new Blob with default time step of 1.0.
func NewBlob(currentBbox Rectangle, classID int, confidence float64) *Blob {
	return NewBlobWithTime(currentBbox, classID, confidence, 1.0)
}

// Activate activates blob
func (blob *Blob) Activate() {
	blob.active = true
}

// Deactivate deactivates blob
func (blob *Blob) Deactivate() {
	blob.active = false
}

// IsActive returns true if blob has been matched on the last frame
func (blob *Blob) IsActive() bool {
	return blob.active
}

// GetUID returns blob's internal unique identifier
func (blob *Blob) GetUID() uuid.UUID {
	return blob.uid
}

// GetTrackID returns blob's track identifier. Zero means blob has not been registered yet
func (blob *Blob) GetTrackID() int64 {
	return blob.trackID
}

// GetClassID returns class index of the object
func (blob *Blob) GetClassID() int {
	return blob.classID
}

// GetConfidence returns confidence of the latest detection
func (blob *Blob) GetConfidence() float64 {
	return blob.confidence
}

// GetHits returns number of detections merged into blob
func (blob *Blob) GetHits() int {
	return blob.hits
}

// GetCenter returns blob's current center
func (blob *Blob) GetCenter() Point {
	return blob.currentBBox.Center()
}

// GetBBox returns blob's current bounding box
func (blob *Blob) GetBBox() Rectangle {
	return blob.currentBBox
}

// GetPredictedBBox returns predicted bounding box from Kalman filter
func (blob *Blob) GetPredictedBBox() Rectangle {
	return blob.predictedBBox
}

// GetDiagonal returns blob's estimated diagonal
func (blob *Blob) GetDiagonal() float64 {
	return blob.currentBBox.Diagonal()
}

// GetTrack returns blob's current track. Be careful: this is not copy of track, but reference to it
func (blob *Blob) GetTrack() []Point {
	return blob.track
}

// SetMaxTrackLen sets blob's max track length
func (blob *Blob) SetMaxTrackLen(newMaxTrackLen int) {
	blob.maxTrackLen = newMaxTrackLen
}

// GetNoMatchTimes returns blob's no match times
func (blob *Blob) GetNoMatchTimes() int {
	return blob.noMatchTimes
}

// IncNoMatch increases blob's no match times
func (blob *Blob) IncNoMatch() {
	blob.noMatchTimes++
}

// ResetNoMatch resets blob's no match times
func (blob *Blob) ResetNoMatch() {
	blob.noMatchTimes = 0
}

// DistanceTo returns distance to other blob (center to center)
func (blob *Blob) DistanceTo(otherBlob *Blob) float64 {
	return euclideanDistance(blob.GetCenter(), otherBlob.GetCenter())
}

// PredictNextPosition executes Kalman filter prediction step
func (blob *Blob) PredictNextPosition() {
	blob.tracker.Predict()
	cx, cy, w, h := blob.tracker.GetState()
	blob.predictedBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
}

// Update merges detection into blob and executes Kalman filter update step.
// Class of the blob is kept: tracker is not allowed to reclassify known object.
func (blob *Blob) Update(newBlob *Blob) error {
	newBBox := newBlob.currentBBox
	newCenter := newBBox.Center()

	err := blob.tracker.Update(newCenter.X, newCenter.Y, newBBox.Width, newBBox.Height)
	if err != nil {
		return errors.Wrapf(err, "Can't update object tracker for track %d", blob.trackID)
	}

	// Smoothed state
	cx, cy, w, h := blob.tracker.GetState()
	blob.currentBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
	blob.confidence = newBlob.confidence
	blob.active = true
	blob.noMatchTimes = 0
	blob.hits++

	blob.track = append(blob.track, Point{X: cx, Y: cy})
	if len(blob.track) > blob.maxTrackLen {
		blob.track = blob.track[1:]
	}
	return nil
}

// GetVelocity returns current velocity estimates (vx, vy, vw, vh) from Kalman filter
func (blob *Blob) GetVelocity() (float64, float64, float64, float64) {
	return blob.tracker.GetVelocity()
}
