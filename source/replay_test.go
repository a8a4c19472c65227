package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
)

func init() {
	monitoring.SetLogger(nil)
}

var classes = presence.ClassTable{"person", "bicycle", "car"}

func TestReplayEngineParsing(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id,confidence
1,7,10,20,110,220,0,0.91
1,8,300,300,350,380,2,0.66
2,7,12,21,112,221,0,0.90
4,8,301,302,351,381,2,0.70`

	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0.5)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	frames := engine.Frames()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if frames[0] != 1 || frames[1] != 2 || frames[2] != 4 {
		t.Errorf("Unexpected frame order: %v", frames)
	}

	detections, err := engine.Track(context.Background(), 1)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("Expected 2 detections on frame 1, got %d", len(detections))
	}
	first := detections[0]
	if first.TrackID != 7 || first.ClassIndex != 0 {
		t.Errorf("Unexpected first detection: %+v", first)
	}
	wantBox := presence.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}
	if first.Box != wantBox {
		t.Errorf("Box should be %+v, got %+v", wantBox, first.Box)
	}
	if first.Confidence != 0.91 {
		t.Errorf("Confidence should be 0.91, got %f", first.Confidence)
	}

	detections, _ = engine.Track(context.Background(), 3)
	if len(detections) != 0 {
		t.Errorf("Frame without rows should give no detections, got %d", len(detections))
	}
	if len(engine.Classes()) != 3 {
		t.Errorf("Expected 3 classes, got %d", len(engine.Classes()))
	}
}

func TestReplayEngineConfidenceThreshold(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id,confidence
1,1,0,0,10,10,0,0.30
1,2,0,0,10,10,0,0.80
2,1,0,0,10,10,0,0.20`

	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0.5)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	detections, _ := engine.Track(context.Background(), 1)
	if len(detections) != 1 || detections[0].TrackID != 2 {
		t.Errorf("Only track 2 should pass threshold, got %+v", detections)
	}
	// Frame 2 is kept as empty frame
	if len(engine.Frames()) != 2 {
		t.Errorf("Expected 2 frames, got %d", len(engine.Frames()))
	}
	detections, _ = engine.Track(context.Background(), 2)
	if len(detections) != 0 {
		t.Errorf("Frame 2 should be empty, got %d detections", len(detections))
	}
}

func TestReplayEngineOptionalConfidence(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id
5,3,1,2,3,4,1`

	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0.5)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	detections, _ := engine.Track(context.Background(), 5)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}
	if detections[0].Confidence != 1.0 {
		t.Errorf("Missing confidence should default to 1.0, got %f", detections[0].Confidence)
	}
}

func TestReplayEngineInvalidRows(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id,confidence
INVALID,1,0,0,10,10,0,0.9
1,INVALID,0,0,10,10,0,0.9
1,2,0,0,10
1,3,0,0,10,10,0,0.9`

	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0.5)
	if err != nil {
		t.Fatalf("NewReplayEngine should skip invalid rows: %v", err)
	}
	if engine.Skipped() != 3 {
		t.Errorf("Expected 3 skipped rows, got %d", engine.Skipped())
	}
	detections, _ := engine.Track(context.Background(), 1)
	if len(detections) != 1 || detections[0].TrackID != 3 {
		t.Errorf("Only track 3 should be parsed, got %+v", detections)
	}
}

func TestReplayEngineMissingColumn(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2
1,1,0,0,10,10`
	_, err := NewReplayEngine(strings.NewReader(content), classes, 0.5)
	if err == nil {
		t.Fatalf("Header without class_id should be rejected")
	}
}

func TestReplayEngineTrackReturnsCopy(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id
1,1,0,0,10,10,0`
	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	detections, _ := engine.Track(context.Background(), 1)
	detections[0].TrackID = 100
	again, _ := engine.Track(context.Background(), 1)
	if again[0].TrackID != 1 {
		t.Errorf("Recorded detections must not be modified by callers")
	}
}

func TestOpenReplayAndClasses(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "tracks.csv")
	classesPath := filepath.Join(dir, "coco.names")
	if err := os.WriteFile(csvPath, []byte("frame,track_id,x1,y1,x2,y2,class_id\n1,1,0,0,10,10,2\n"), 0644); err != nil {
		t.Fatalf("Failed to create test CSV: %v", err)
	}
	if err := os.WriteFile(classesPath, []byte("# coco subset\nperson\n\nbicycle\ncar\n"), 0644); err != nil {
		t.Fatalf("Failed to create classes file: %v", err)
	}

	loaded, err := LoadClasses(classesPath)
	if err != nil {
		t.Fatalf("LoadClasses failed: %v", err)
	}
	if len(loaded) != 3 || loaded[2] != "car" {
		t.Errorf("Unexpected classes: %v", loaded)
	}

	engine, err := OpenReplay(csvPath, loaded, 0.5)
	if err != nil {
		t.Fatalf("OpenReplay failed: %v", err)
	}
	detections, _ := engine.Track(context.Background(), 1)
	name, err := engine.Classes().Name(detections[0].ClassIndex)
	if err != nil || name != "car" {
		t.Errorf("Expected class 'car', got '%s' (%v)", name, err)
	}

	if _, err := OpenReplay(filepath.Join(dir, "missing.csv"), loaded, 0.5); err == nil {
		t.Errorf("Missing file should fail")
	}
	if _, err := ReadClasses(strings.NewReader("\n# nothing\n")); err == nil {
		t.Errorf("Empty class table should fail")
	}
}

func TestReplayEngineSpan(t *testing.T) {
	content := `frame,track_id,x1,y1,x2,y2,class_id
2,1,0,0,10,10,0
5,1,0,0,10,10,0`
	engine, err := NewReplayEngine(strings.NewReader(content), classes, 0)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	var span []int64
	for frame := range engine.Span() {
		span = append(span, frame)
	}
	if len(span) != 4 || span[0] != 2 || span[3] != 5 {
		t.Errorf("Expected frames 2..5, got %v", span)
	}

	last := `frame,track_id,x1,y1,x2,y2,class_id
9223372036854775806,1,0,0,10,10,0
9223372036854775807,1,0,0,10,10,0`
	engine, err = NewReplayEngine(strings.NewReader(last), classes, 0)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	count := 0
	for range engine.Span() {
		count++
		if count > 2 {
			t.Fatalf("Span must stop at the last recorded frame")
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 frames, got %d", count)
	}

	empty, err := NewReplayEngine(strings.NewReader("frame,track_id,x1,y1,x2,y2,class_id\n"), classes, 0)
	if err != nil {
		t.Fatalf("NewReplayEngine failed: %v", err)
	}
	for range empty.Span() {
		t.Fatalf("Empty replay must yield nothing")
	}
}

func TestReadClassesSkippedLinesTakeNoIndex(t *testing.T) {
	loaded, err := ReadClasses(strings.NewReader("person\n\n# vehicles\ncar\n  \nbus\n"))
	if err != nil {
		t.Fatalf("ReadClasses failed: %v", err)
	}
	if len(loaded) != 3 || loaded[1] != "car" || loaded[2] != "bus" {
		t.Errorf("Indices must count only class lines, got %v", loaded)
	}
}
