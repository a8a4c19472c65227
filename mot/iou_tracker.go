package mot

import (
	"container/heap"
	"sort"

	"github.com/pkg/errors"
)

// IoUTracker is a naive implementation of Multi-object tracker (MOT) with IoU matching.
// Uses hybrid IoU + distance matching for better recovery when IoU is zero.
// Detections are matched only against objects of the same class.
type IoUTracker struct {
	registry
	// Max no match (max number of frames when object could not be found again)
	maxNoMatch int
	// Score threshold for matching
	iouThreshold float64
}

// NewDefaultIoUTracker creates a default instance of IoUTracker.
// Default values: maxNoMatch=75, iouThreshold=0.1
func NewDefaultIoUTracker() *IoUTracker {
	return NewIoUTracker(75, 0.1)
}

// NewIoUTracker creates a new instance of IoUTracker with specified parameters.
func NewIoUTracker(maxNoMatch int, iouThreshold float64) *IoUTracker {
	return &IoUTracker{
		registry:     newRegistry(),
		maxNoMatch:   maxNoMatch,
		iouThreshold: iouThreshold,
	}
}

// iouCandidate holds a detection with its best match score and target track for priority queue
type iouCandidate struct {
	score   float64
	trackID int64
	order   int
	blob    *Blob
	index   int
}

// iouHeap implements heap.Interface for max-heap by score
type iouHeap []*iouCandidate

func (h iouHeap) Len() int { return len(h) }

// Less returns true if i has higher score (max-heap). Ties are resolved by detection order
func (h iouHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		return h[i].order < h[j].order
	}
	return h[i].score > h[j].score
}

func (h iouHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *iouHeap) Push(x any) {
	n := len(*h)
	item := x.(*iouCandidate)
	item.index = n
	*h = append(*h, item)
}

func (h *iouHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// matchScore combines IoU with distance between centers (favor IoU when available, fallback to distance)
func matchScore(detection, object *Blob) float64 {
	predictedBBox := object.GetPredictedBBox()
	iouValue := detection.GetBBox().IoU(predictedBBox)
	distance := euclideanDistance(predictedBBox.Center(), detection.GetCenter())
	// Convert to 0-1 similarity
	distanceScore := 1.0 / (1.0 + distance*0.01)
	if iouValue > 0.05 {
		return iouValue*0.8 + distanceScore*0.2
	}
	// Lower weight for pure distance matching
	return distanceScore * 0.5
}

// MatchObjects matches new detections to existing tracked objects using hybrid IoU + distance.
func (tracker *IoUTracker) MatchObjects(newObjects []*Blob) error {
	tracker.startFrame()
	for _, object := range tracker.Objects {
		object.Deactivate()
	}

	pq := &iouHeap{}
	heap.Init(pq)
	for i, newObj := range newObjects {
		var bestID int64
		bestScore := 0.0
		for objID, object := range tracker.Objects {
			if object.GetClassID() != newObj.GetClassID() {
				continue
			}
			score := matchScore(newObj, object)
			if score > bestScore || (score == bestScore && bestID != 0 && objID < bestID) {
				bestScore = score
				bestID = objID
			}
		}
		heap.Push(pq, &iouCandidate{
			score:   bestScore,
			trackID: bestID,
			order:   i,
			blob:    newObj,
		})
	}

	// Prevent double update of objects
	reservedObjects := make(map[int64]struct{})
	blobsToRegister := make([]*iouCandidate, 0)

	// Process matches from highest score to lowest
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*iouCandidate)
		if item.trackID == 0 || item.score <= tracker.iouThreshold {
			blobsToRegister = append(blobsToRegister, item)
			continue
		}
		if _, ok := reservedObjects[item.trackID]; ok {
			// Object has been taken by better candidate: register as new one
			blobsToRegister = append(blobsToRegister, item)
			continue
		}
		existingObj, ok := tracker.Objects[item.trackID]
		if !ok {
			blobsToRegister = append(blobsToRegister, item)
			continue
		}
		// Advance time and update in correct order
		existingObj.PredictNextPosition()
		err := existingObj.Update(item.blob)
		if err != nil {
			return errors.Wrapf(err, "Can't update blob with id %d", item.trackID)
		}
		reservedObjects[item.trackID] = struct{}{}
		tracker.markMatched(item.trackID)
	}

	// Handle unmatched objects (predict forward for track maintenance)
	for objID, object := range tracker.Objects {
		if _, ok := reservedObjects[objID]; !ok {
			object.PredictNextPosition()
			object.IncNoMatch()
		}
	}

	// Register new objects in order of appearance so identifiers are deterministic
	sort.Slice(blobsToRegister, func(i, j int) bool {
		return blobsToRegister[i].order < blobsToRegister[j].order
	})
	for _, item := range blobsToRegister {
		tracker.register(item.blob)
	}

	tracker.expire(tracker.maxNoMatch, false)
	return nil
}
