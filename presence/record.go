package presence

import (
	"container/list"
	"time"

	"github.com/jinzhu/copier"
)

// Summary is a detached copy of track record state
type Summary struct {
	ID          int64     `json:"id"`
	ClassName   string    `json:"class_name"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Frames      []int64   `json:"frames"`
	TotalFrames int       `json:"total_frames"`
	LastBox     Box       `json:"last_box"`
}

// Duration returns time between first and last observation
func (s Summary) Duration() time.Duration {
	return s.LastSeen.Sub(s.FirstSeen)
}

// Record is lifecycle state of single track identity.
// Identity and class name never change once record is created; observations are only
// added through Store.Observe.
type Record struct {
	state     Summary
	lastFrame int64
	elem      *list.Element
}

// ID returns track identity
func (r *Record) ID() int64 {
	return r.state.ID
}

// ClassName returns class label fixed at first observation
func (r *Record) ClassName() string {
	return r.state.ClassName
}

// FirstSeen returns timestamp of the first observation
func (r *Record) FirstSeen() time.Time {
	return r.state.FirstSeen
}

// LastSeen returns timestamp of the latest observation
func (r *Record) LastSeen() time.Time {
	return r.state.LastSeen
}

// LastFrame returns number of the frame the track was last observed at
func (r *Record) LastFrame() int64 {
	return r.lastFrame
}

// TotalFrames returns number of frames the track was observed at
func (r *Record) TotalFrames() int {
	return r.state.TotalFrames
}

// Frames returns copy of observed frame numbers (strictly increasing)
func (r *Record) Frames() []int64 {
	frames := make([]int64, len(r.state.Frames))
	copy(frames, r.state.Frames)
	return frames
}

// LastBox returns the latest valid observed bounding box (zero Box if none was valid)
func (r *Record) LastBox() Box {
	return r.state.LastBox
}

// Duration returns time between first and last observation
func (r *Record) Duration() time.Duration {
	return r.state.Duration()
}

// Summary returns deep copy of record state
func (r *Record) Summary() Summary {
	var summary Summary
	if err := copier.CopyWithOption(&summary, &r.state, copier.Option{DeepCopy: true}); err != nil {
		summary = r.state
		summary.Frames = r.Frames()
	}
	return summary
}

func (r *Record) observe(frame int64, box Box, now time.Time) {
	r.state.Frames = append(r.state.Frames, frame)
	r.state.TotalFrames++
	r.state.LastSeen = now
	r.lastFrame = frame
	r.setLastBox(box)
}

// setLastBox keeps the last valid box: malformed ones are never stored
func (r *Record) setLastBox(box Box) {
	if box.Valid() {
		r.state.LastBox = box
	}
}
