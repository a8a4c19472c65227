package mot

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestNewBlob(t *testing.T) {
	bbox := Rectangle{X: 10, Y: 20, Width: 30, Height: 40}
	blob := NewBlob(bbox, 2, 0.75)

	if blob == nil {
		t.Fatal("NewBlob returned nil")
	}
	if blob.GetUID() == uuid.Nil {
		t.Error("Blob UID should not be nil")
	}
	if blob.GetTrackID() != 0 {
		t.Errorf("Fresh blob should not have track ID, got %d", blob.GetTrackID())
	}
	if blob.GetClassID() != 2 {
		t.Errorf("Expected class 2, got %d", blob.GetClassID())
	}
	if blob.GetConfidence() != 0.75 {
		t.Errorf("Expected confidence 0.75, got %f", blob.GetConfidence())
	}
	if blob.GetBBox() != bbox {
		t.Errorf("Expected bbox %v, got %v", bbox, blob.GetBBox())
	}

	expectedCenter := Point{X: 25, Y: 40}
	if center := blob.GetCenter(); center != expectedCenter {
		t.Errorf("Expected center %v, got %v", expectedCenter, center)
	}
	if math.Abs(blob.GetDiagonal()-50.0) > 0.001 {
		t.Errorf("Expected diagonal 50, got %f", blob.GetDiagonal())
	}
}

func TestBlobActivateDeactivate(t *testing.T) {
	blob := NewBlob(Rectangle{X: 0, Y: 0, Width: 10, Height: 10}, 0, 1.0)

	if blob.IsActive() {
		t.Error("Blob should be inactive by default")
	}
	blob.Activate()
	if !blob.IsActive() {
		t.Error("Blob should be active after Activate()")
	}
	blob.Deactivate()
	if blob.IsActive() {
		t.Error("Blob should be inactive after Deactivate()")
	}
}

func TestBlobNoMatchTimes(t *testing.T) {
	blob := NewBlob(Rectangle{X: 0, Y: 0, Width: 10, Height: 10}, 0, 1.0)

	blob.IncNoMatch()
	blob.IncNoMatch()
	if blob.GetNoMatchTimes() != 2 {
		t.Errorf("Expected NoMatchTimes 2, got %d", blob.GetNoMatchTimes())
	}
	blob.ResetNoMatch()
	if blob.GetNoMatchTimes() != 0 {
		t.Error("NoMatchTimes should be 0 after reset")
	}
}

func TestBlobUpdate(t *testing.T) {
	blob := NewBlob(Rectangle{X: 10, Y: 20, Width: 30, Height: 40}, 1, 0.9)
	blob.IncNoMatch()

	// Detection of another class must not reclassify the blob
	newBlob := NewBlob(Rectangle{X: 15, Y: 25, Width: 32, Height: 42}, 3, 0.6)
	blob.PredictNextPosition()
	err := blob.Update(newBlob)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(blob.GetTrack()) != 2 {
		t.Errorf("Expected track length 2, got %d", len(blob.GetTrack()))
	}
	if blob.GetClassID() != 1 {
		t.Errorf("Class should stay 1, got %d", blob.GetClassID())
	}
	if blob.GetConfidence() != 0.6 {
		t.Errorf("Confidence should follow the latest detection, got %f", blob.GetConfidence())
	}
	if blob.GetHits() != 2 {
		t.Errorf("Expected 2 hits, got %d", blob.GetHits())
	}
	if blob.GetNoMatchTimes() != 0 || !blob.IsActive() {
		t.Error("Updated blob should be active with reset no match counter")
	}
}

func TestBlobSizeTracking(t *testing.T) {
	blob := NewBlob(Rectangle{X: 0, Y: 0, Width: 100, Height: 100}, 0, 1.0)

	// Simulate object growing over several frames
	for _, size := range []float64{102, 104, 106, 108} {
		blob.PredictNextPosition()
		err := blob.Update(NewBlob(Rectangle{X: 0, Y: 0, Width: size, Height: size}, 0, 1.0))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	_, _, vw, vh := blob.GetVelocity()
	if vw <= 0 {
		t.Errorf("Width velocity should be positive for growing object, got %f", vw)
	}
	if vh <= 0 {
		t.Errorf("Height velocity should be positive for growing object, got %f", vh)
	}
}

func TestBlobMaxTrackLen(t *testing.T) {
	blob := NewBlob(Rectangle{X: 0, Y: 0, Width: 10, Height: 10}, 0, 1.0)
	blob.SetMaxTrackLen(3)
	for i := 1; i <= 5; i++ {
		blob.PredictNextPosition()
		err := blob.Update(NewBlob(Rectangle{X: float64(i), Y: 0, Width: 10, Height: 10}, 0, 1.0))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if len(blob.GetTrack()) != 3 {
		t.Errorf("Track should be capped at 3 points, got %d", len(blob.GetTrack()))
	}
}
