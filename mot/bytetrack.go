package mot

import (
	"github.com/arthurkushman/go-hungarian"
	"github.com/pkg/errors"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingAlgorithmHungarian MatchingAlgorithm = iota
	// MatchingAlgorithmGreedy uses a greedy algorithm for faster but potentially suboptimal assignment
	MatchingAlgorithmGreedy
)

// ByteTracker is implementation of Multi-object tracker (MOT) called ByteTrack.
// Confidence of every detection is taken from the blob itself.
type ByteTracker struct {
	registry
	// Maximum number of frames an object can be missing before it is removed
	maxDisappeared int
	// Minimum IoU between track and detection to be considered the same object
	minIoU float64
	// High detection confidence threshold
	highThresh float64
	// Low detection confidence threshold
	lowThresh float64
	// Algorithm to use for matching
	algorithm MatchingAlgorithm
}

// DefaultByteTracker creates a ByteTracker with default parameters.
func DefaultByteTracker() *ByteTracker {
	return NewByteTracker(5, 0.3, 0.5, 0.3, MatchingAlgorithmHungarian)
}

// NewByteTracker creates a new instance of ByteTracker with specified parameters.
func NewByteTracker(maxDisappeared int, minIoU, highThresh, lowThresh float64, algorithm MatchingAlgorithm) *ByteTracker {
	return &ByteTracker{
		registry:       newRegistry(),
		maxDisappeared: maxDisappeared,
		minIoU:         minIoU,
		highThresh:     highThresh,
		lowThresh:      lowThresh,
		algorithm:      algorithm,
	}
}

// bboxPair is a helper struct to pair track ID with its bounding box.
type bboxPair struct {
	ID   int64
	BBox Rectangle
}

// MatchObjects matches objects in the current frame with existing tracks.
func (bt *ByteTracker) MatchObjects(detections []*Blob) error {
	bt.startFrame()

	// Predict next positions for all existing tracks via Kalman filter
	for _, track := range bt.Objects {
		track.Deactivate()
		track.PredictNextPosition()
	}

	activeTrackBBoxes := make([]bboxPair, 0, len(bt.Objects))
	for id, track := range bt.Objects {
		if track.GetNoMatchTimes() < bt.maxDisappeared {
			activeTrackBBoxes = append(activeTrackBBoxes, bboxPair{
				ID:   id,
				BBox: track.GetPredictedBBox(),
			})
		}
	}

	matchedTracks := make(map[int64]struct{})
	matchedDetections := make(map[int]struct{})

	// 1. First stage: Match high confidence detections
	highDetectionIndices := make([]int, 0)
	for i, detection := range detections {
		if detection.GetConfidence() >= bt.highThresh {
			highDetectionIndices = append(highDetectionIndices, i)
		}
	}
	if len(activeTrackBBoxes) > 0 && len(highDetectionIndices) > 0 {
		iouMatrix := bt.createIoUMatrix(activeTrackBBoxes, highDetectionIndices, detections)
		matches := bt.performMatching(iouMatrix, activeTrackBBoxes, highDetectionIndices)
		err := bt.processMatches(matches, activeTrackBBoxes, highDetectionIndices, iouMatrix, detections, matchedTracks, matchedDetections)
		if err != nil {
			return errors.Wrap(err, "error processing matches in stage 1")
		}
	}

	// 2. Second stage: Match low confidence detections with remaining tracks
	unmatchedTrackBBoxes := make([]bboxPair, 0)
	for _, pair := range activeTrackBBoxes {
		if _, found := matchedTracks[pair.ID]; !found {
			unmatchedTrackBBoxes = append(unmatchedTrackBBoxes, pair)
		}
	}
	lowDetectionIndices := make([]int, 0)
	for i, detection := range detections {
		if _, found := matchedDetections[i]; found {
			continue
		}
		conf := detection.GetConfidence()
		if conf < bt.highThresh && conf >= bt.lowThresh {
			lowDetectionIndices = append(lowDetectionIndices, i)
		}
	}
	if len(unmatchedTrackBBoxes) > 0 && len(lowDetectionIndices) > 0 {
		iouMatrix := bt.createIoUMatrix(unmatchedTrackBBoxes, lowDetectionIndices, detections)
		matches := bt.performMatching(iouMatrix, unmatchedTrackBBoxes, lowDetectionIndices)
		err := bt.processMatches(matches, unmatchedTrackBBoxes, lowDetectionIndices, iouMatrix, detections, matchedTracks, matchedDetections)
		if err != nil {
			return errors.Wrap(err, "error processing matches in stage 2")
		}
	}

	// 3. Increment no_match_times for unmatched tracks
	for id, track := range bt.Objects {
		if _, found := matchedTracks[id]; !found {
			track.IncNoMatch()
		}
	}

	// 4. Add new tracks for unmatched high confidence detections
	for _, detIdx := range highDetectionIndices {
		if _, found := matchedDetections[detIdx]; !found {
			bt.register(detections[detIdx])
		}
	}

	// 5. Remove tracks that have disappeared for too long
	bt.expire(bt.maxDisappeared, true)
	return nil
}

// GetActiveTracks returns a slice of tracks which are not considered lost yet.
func (bt *ByteTracker) GetActiveTracks() []*Blob {
	activeTracks := make([]*Blob, 0, len(bt.Objects))
	for _, track := range bt.Objects {
		if track.GetNoMatchTimes() < bt.maxDisappeared {
			activeTracks = append(activeTracks, track)
		}
	}
	return activeTracks
}

// createIoUMatrix is helper function to create IoU matrix: rows = tracks, columns = detections.
// Pairs of different classes get zero IoU so they are never matched.
func (bt *ByteTracker) createIoUMatrix(trackBBoxes []bboxPair, detectionIndices []int, allDetections []*Blob) [][]float64 {
	iouMatrix := make([][]float64, len(trackBBoxes))
	for i, trkBox := range trackBBoxes {
		row := make([]float64, len(detectionIndices))
		trackClass := bt.Objects[trkBox.ID].GetClassID()
		for j, detIdx := range detectionIndices {
			if allDetections[detIdx].GetClassID() != trackClass {
				continue
			}
			row[j] = trkBox.BBox.IoU(allDetections[detIdx].GetBBox())
		}
		iouMatrix[i] = row
	}
	return iouMatrix
}

// performMatching is helper function to perform matching using Hungarian or Greedy algorithm.
// Returns: a slice of [2]int, where each element is {trackIndexInTrackBBoxes, detectionIndexInDetectionIndices}.
func (bt *ByteTracker) performMatching(iouMatrix [][]float64, trackBBoxes []bboxPair, detectionIndices []int) [][2]int {
	switch bt.algorithm {
	case MatchingAlgorithmHungarian:
		return bt.performHungarianMatching(iouMatrix, len(trackBBoxes), len(detectionIndices))
	default:
		return bt.performGreedyMatching(iouMatrix, len(trackBBoxes), len(detectionIndices))
	}
}

func (bt *ByteTracker) performHungarianMatching(iouMatrix [][]float64, numTracks, numDetections int) [][2]int {
	if numTracks == 0 || numDetections == 0 {
		return [][2]int{}
	}
	paddedMatrix := iouMatrix
	if numTracks != numDetections {
		// Rectangular matrix - pad with zeros (lowest IoU) to make it square
		paddedSize := max(numTracks, numDetections)
		paddedMatrix = make([][]float64, paddedSize)
		for i := 0; i < paddedSize; i++ {
			paddedMatrix[i] = make([]float64, paddedSize)
			if i < numTracks {
				copy(paddedMatrix[i], iouMatrix[i])
			}
		}
	}
	assignmentsMap := hungarian.SolveMax(paddedMatrix)
	matches := make([][2]int, 0, len(assignmentsMap))
	for trackIndex, rowMap := range assignmentsMap {
		for detectionIndex := range rowMap {
			// Assignments to padding rows/columns are dummy ones
			if trackIndex < numTracks && detectionIndex < numDetections {
				matches = append(matches, [2]int{trackIndex, detectionIndex})
			}
			break
		}
	}
	return matches
}

// performGreedyMatching is helper function for greedy matching.
func (bt *ByteTracker) performGreedyMatching(iouMatrix [][]float64, numTracks, numDetections int) [][2]int {
	matches := make([][2]int, 0)
	if numTracks == 0 || numDetections == 0 {
		return matches
	}
	matchedDetIndicesInStage := make(map[int]struct{})
	for i := 0; i < numTracks; i++ {
		bestIoU := -1.0
		bestDetIdxInStage := -1
		for j := 0; j < numDetections; j++ {
			if _, found := matchedDetIndicesInStage[j]; found {
				continue
			}
			currentIoU := iouMatrix[i][j]
			if currentIoU > bestIoU && currentIoU >= bt.minIoU {
				bestIoU = currentIoU
				bestDetIdxInStage = j
			}
		}
		if bestDetIdxInStage != -1 {
			matches = append(matches, [2]int{i, bestDetIdxInStage})
			matchedDetIndicesInStage[bestDetIdxInStage] = struct{}{}
		}
	}
	return matches
}

// processMatches updates tracks and marks matched entities.
// Matches below minIoU (e.g. padding assignments of Hungarian algorithm) are ignored.
func (bt *ByteTracker) processMatches(
	matches [][2]int,
	trackBBoxes []bboxPair,
	detectionIndices []int,
	iouMatrix [][]float64,
	allDetections []*Blob,
	matchedTracks map[int64]struct{},
	matchedDetections map[int]struct{},
) error {
	for _, match := range matches {
		trackIdxInStage := match[0]
		detIdxInStage := match[1]
		if iouMatrix[trackIdxInStage][detIdxInStage] < bt.minIoU {
			continue
		}
		trackID := trackBBoxes[trackIdxInStage].ID
		originalDetIdx := detectionIndices[detIdxInStage]
		track, ok := bt.Objects[trackID]
		if !ok {
			continue
		}
		err := track.Update(allDetections[originalDetIdx])
		if err != nil {
			return errors.Wrapf(err, "failed to update track %d", trackID)
		}
		matchedTracks[trackID] = struct{}{}
		matchedDetections[originalDetIdx] = struct{}{}
		bt.markMatched(trackID)
	}
	return nil
}
