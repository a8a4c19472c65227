// Package source provides detection-and-tracking engines fed by recorded tracker output.
package source

import (
	"context"
	"encoding/csv"
	"io"
	"iter"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
)

// Required columns of replay CSV. Column "confidence" is optional
var replayColumns = []string{"frame", "track_id", "x1", "y1", "x2", "y2", "class_id"}

// ReplayEngine replays tracker output recorded as CSV:
//
//	frame,track_id,x1,y1,x2,y2,class_id[,confidence]
//
// It implements pipeline.Engine[int64] where frame is frame number of the recording.
type ReplayEngine struct {
	classes   presence.ClassTable
	threshold float64
	frames    map[int64][]presence.Detection
	order     []int64
	skipped   int
}

// NewReplayEngine creates engine from CSV stream. Rows which can't be parsed are logged and skipped.
// Rows with confidence below threshold are dropped.
func NewReplayEngine(r io.Reader, classes presence.ClassTable, threshold float64) (*ReplayEngine, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "can't read replay header")
	}
	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range replayColumns {
		if _, ok := colMap[col]; !ok {
			return nil, errors.Errorf("replay header misses column '%s'", col)
		}
	}

	engine := &ReplayEngine{
		classes:   classes,
		threshold: threshold,
		frames:    make(map[int64][]presence.Detection),
	}
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			monitoring.Logf("source: line=%d can't read row: %v", line, err)
			engine.skipped++
			continue
		}
		frame, detection, err := parseRow(row, colMap)
		if err != nil {
			monitoring.Logf("source: line=%d can't parse row: %v", line, err)
			engine.skipped++
			continue
		}
		if _, ok := engine.frames[frame]; !ok {
			engine.order = append(engine.order, frame)
			engine.frames[frame] = make([]presence.Detection, 0, 1)
		}
		if detection.Confidence < threshold {
			continue
		}
		engine.frames[frame] = append(engine.frames[frame], detection)
	}
	sort.Slice(engine.order, func(i, j int) bool { return engine.order[i] < engine.order[j] })
	return engine, nil
}

// OpenReplay reads replay CSV file
func OpenReplay(path string, classes presence.ClassTable, threshold float64) (*ReplayEngine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open replay %s", path)
	}
	defer file.Close()
	engine, err := NewReplayEngine(file, classes, threshold)
	if err != nil {
		return nil, errors.Wrapf(err, "replay %s", path)
	}
	monitoring.Logf("source: replay=%s frames=%d skipped_rows=%d", path, len(engine.order), engine.skipped)
	return engine, nil
}

func parseRow(row []string, colMap map[string]int) (int64, presence.Detection, error) {
	field := func(name string) (string, error) {
		idx := colMap[name]
		if idx >= len(row) {
			return "", errors.Errorf("missing '%s'", name)
		}
		return strings.TrimSpace(row[idx]), nil
	}
	parseInt := func(name string) (int64, error) {
		value, err := field(name)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(value, 10, 64)
		return v, errors.Wrapf(err, "invalid %s", name)
	}
	parseFloat := func(name string) (float64, error) {
		value, err := field(name)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(value, 64)
		return v, errors.Wrapf(err, "invalid %s", name)
	}

	var detection presence.Detection
	frame, err := parseInt("frame")
	if err != nil {
		return 0, detection, err
	}
	if detection.TrackID, err = parseInt("track_id"); err != nil {
		return 0, detection, err
	}
	classID, err := parseInt("class_id")
	if err != nil {
		return 0, detection, err
	}
	detection.ClassIndex = int(classID)
	if detection.Box.X1, err = parseFloat("x1"); err != nil {
		return 0, detection, err
	}
	if detection.Box.Y1, err = parseFloat("y1"); err != nil {
		return 0, detection, err
	}
	if detection.Box.X2, err = parseFloat("x2"); err != nil {
		return 0, detection, err
	}
	if detection.Box.Y2, err = parseFloat("y2"); err != nil {
		return 0, detection, err
	}
	// Rows without confidence are treated as certain
	detection.Confidence = 1.0
	if idx, ok := colMap["confidence"]; ok && idx < len(row) && strings.TrimSpace(row[idx]) != "" {
		if detection.Confidence, err = parseFloat("confidence"); err != nil {
			return 0, detection, err
		}
	}
	return frame, detection, nil
}

// Track returns detections recorded for the frame. Unknown frame gives empty set
func (engine *ReplayEngine) Track(ctx context.Context, frame int64) ([]presence.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recorded := engine.frames[frame]
	detections := make([]presence.Detection, len(recorded))
	copy(detections, recorded)
	return detections, nil
}

// Classes returns class table
func (engine *ReplayEngine) Classes() presence.ClassTable {
	return engine.classes
}

// Frames returns recorded frame numbers in increasing order. Frames with all rows
// dropped by confidence threshold are kept: they are frames with no detections.
func (engine *ReplayEngine) Frames() []int64 {
	frames := make([]int64, len(engine.order))
	copy(frames, engine.order)
	return frames
}

// Span yields every frame number from the first recorded frame to the last one,
// including frames absent from the recording.
func (engine *ReplayEngine) Span() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		if len(engine.order) == 0 {
			return
		}
		first, last := engine.order[0], engine.order[len(engine.order)-1]
		for frame := first; ; frame++ {
			if !yield(frame) || frame == last {
				return
			}
		}
	}
}

// Skipped returns number of rows which could not be parsed
func (engine *ReplayEngine) Skipped() int {
	return engine.skipped
}
