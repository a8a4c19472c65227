package mot

import (
	"testing"
)

func TestByteTrackerBasicMatching(t *testing.T) {
	for _, algorithm := range []MatchingAlgorithm{MatchingAlgorithmHungarian, MatchingAlgorithmGreedy} {
		tracker := NewByteTracker(5, 0.3, 0.5, 0.3, algorithm)

		frame1 := []*Blob{
			NewBlob(Rectangle{X: 10, Y: 20, Width: 30, Height: 40}, 0, 0.9),
			NewBlob(Rectangle{X: 100, Y: 200, Width: 30, Height: 40}, 0, 0.8),
		}
		if err := tracker.MatchObjects(frame1); err != nil {
			t.Fatalf("Frame 1 failed: %v", err)
		}
		if len(tracker.Objects) != 2 {
			t.Errorf("Expected 2 objects after frame 1, got %d", len(tracker.Objects))
		}

		// Second detection has low confidence: must still be matched on second stage
		frame2 := []*Blob{
			NewBlob(Rectangle{X: 12, Y: 22, Width: 31, Height: 41}, 0, 0.85),
			NewBlob(Rectangle{X: 102, Y: 202, Width: 29, Height: 39}, 0, 0.35),
		}
		if err := tracker.MatchObjects(frame2); err != nil {
			t.Fatalf("Frame 2 failed: %v", err)
		}
		if len(tracker.Objects) != 2 {
			t.Errorf("Expected 2 objects after frame 2, got %d", len(tracker.Objects))
		}
		tracked := tracker.Tracked()
		if len(tracked) != 2 || tracked[0].GetTrackID() != 1 || tracked[1].GetTrackID() != 2 {
			t.Errorf("Expected tracks 1 and 2 to be matched, got %d tracked", len(tracked))
		}
	}
}

func TestByteTrackerLowConfidenceNotRegistered(t *testing.T) {
	tracker := DefaultByteTracker()
	frame := []*Blob{
		NewBlob(Rectangle{X: 10, Y: 20, Width: 30, Height: 40}, 0, 0.4),
	}
	if err := tracker.MatchObjects(frame); err != nil {
		t.Fatal(err)
	}
	if len(tracker.Objects) != 0 {
		t.Errorf("Low confidence detection must not start a track, got %d objects", len(tracker.Objects))
	}
}

func TestByteTrackerRemovesLostTracks(t *testing.T) {
	tracker := NewByteTracker(2, 0.3, 0.5, 0.3, MatchingAlgorithmHungarian)
	if err := tracker.MatchObjects([]*Blob{NewBlob(NewRect(10, 10, 40, 40), 0, 0.9)}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := tracker.MatchObjects(nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(tracker.Objects) != 0 {
		t.Errorf("Track should be removed after 2 misses, got %d objects", len(tracker.Objects))
	}
	if len(tracker.GetActiveTracks()) != 0 {
		t.Errorf("No active tracks expected")
	}
}
