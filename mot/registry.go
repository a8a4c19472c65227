package mot

import "sort"

// Tracker is common interface for multi-object trackers of this package.
// Trackers are not safe for concurrent use: call MatchObjects once per frame from single goroutine.
type Tracker interface {
	// MatchObjects associates detections of the current frame with existing tracks
	MatchObjects(detections []*Blob) error
	// Tracked returns objects which have been matched or registered on the last call of MatchObjects
	Tracked() []*Blob
}

// registry is shared storage for trackers.
// It hands out sequential track identifiers, so identifier is never reused within single tracker.
type registry struct {
	// Main storage
	Objects map[int64]*Blob
	lastID  int64
	matched map[int64]struct{}
}

func newRegistry() registry {
	return registry{
		Objects: make(map[int64]*Blob),
		matched: make(map[int64]struct{}),
	}
}

// startFrame clears per-frame bookkeeping
func (reg *registry) startFrame() {
	reg.matched = make(map[int64]struct{}, len(reg.Objects))
}

// register stores blob as a new object and assigns next identifier to it
func (reg *registry) register(blob *Blob) {
	reg.lastID++
	blob.trackID = reg.lastID
	blob.Activate()
	reg.Objects[blob.trackID] = blob
	reg.matched[blob.trackID] = struct{}{}
}

func (reg *registry) markMatched(trackID int64) {
	reg.matched[trackID] = struct{}{}
}

// expire removes objects which have not been found for too long.
// inclusive switches between '>' (IoU tracker) and '>=' (ByteTrack) comparison
func (reg *registry) expire(maxNoMatch int, inclusive bool) {
	for trackID, object := range reg.Objects {
		noMatch := object.GetNoMatchTimes()
		if noMatch > maxNoMatch || (inclusive && noMatch == maxNoMatch) {
			delete(reg.Objects, trackID)
		}
	}
}

// Tracked returns objects matched on the last frame ordered by track identifier
func (reg *registry) Tracked() []*Blob {
	tracked := make([]*Blob, 0, len(reg.matched))
	for trackID := range reg.matched {
		if object, ok := reg.Objects[trackID]; ok {
			tracked = append(tracked, object)
		}
	}
	sort.Slice(tracked, func(i, j int) bool {
		return tracked[i].trackID < tracked[j].trackID
	})
	return tracked
}
