package presence

import (
	"sort"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/pkg/errors"
)

// MalformedPolicy defines what happens to detection with malformed bounding box
type MalformedPolicy uint8

const (
	// MalformedStrict rejects detection: it is neither recorded nor drawn
	MalformedStrict MalformedPolicy = iota
	// MalformedPermissive records observation but skips drawing
	MalformedPermissive
)

// String returns policy name
func (p MalformedPolicy) String() string {
	switch p {
	case MalformedPermissive:
		return "permissive"
	default:
		return "strict"
	}
}

// ParseMalformedPolicy parses policy name ("strict" or "permissive")
func ParseMalformedPolicy(name string) (MalformedPolicy, error) {
	switch name {
	case "", "strict":
		return MalformedStrict, nil
	case "permissive":
		return MalformedPermissive, nil
	}
	return MalformedStrict, errors.Errorf("unknown malformed policy %q", name)
}

// FrameResult is the outcome of processing one frame
type FrameResult struct {
	FrameNumber int64
	Timestamp   time.Time
	FPS         float64
	// Identities observed on this frame, ascending
	Current    []int64
	New        []NewEvent
	Missing    []MissingEvent
	Reappeared []ReappearedEvent
	// Records removed by retention policy at the end of the frame
	Evicted []Summary
	Overlay Overlay
	// Recovered conditions (invalid class index, malformed box)
	Warnings []error
}

// Manager is track lifecycle manager: it turns per-frame detections into
// presence records and new/missing events.
//
// Manager is single-owner state: ProcessFrame must be called sequentially, once per frame.
// Every camera stream needs its own Manager.
type Manager struct {
	classes         ClassTable
	store           *Store
	fps             *FPSMeter
	frameCount      int64
	malformed       MalformedPolicy
	reappearEvents  bool
	sampleWindow    int
	retentionPolicy RetentionPolicy
}

// Option configures Manager
type Option func(*Manager)

// WithRetention sets retention policy of the record store
func WithRetention(policy RetentionPolicy) Option {
	return func(m *Manager) {
		m.retentionPolicy = policy
	}
}

// WithMalformedPolicy sets policy for malformed bounding boxes
func WithMalformedPolicy(policy MalformedPolicy) Option {
	return func(m *Manager) {
		m.malformed = policy
	}
}

// WithReappearEvents enables or disables reappeared events
func WithReappearEvents(enabled bool) Option {
	return func(m *Manager) {
		m.reappearEvents = enabled
	}
}

// WithSampleWindow sets number of frames between frame-rate recomputations
func WithSampleWindow(frames int) Option {
	return func(m *Manager) {
		m.sampleWindow = frames
	}
}

// NewManager creates manager for class table supplied by the tracker.
// start is the reference time of the first frame-rate sample.
func NewManager(classes ClassTable, start time.Time, options ...Option) *Manager {
	m := &Manager{
		classes:        classes,
		malformed:      MalformedStrict,
		reappearEvents: true,
		sampleWindow:   DefaultSampleWindow,
	}
	for _, option := range options {
		option(m)
	}
	m.store = NewStore(m.retentionPolicy)
	m.fps = NewFPSMeter(m.sampleWindow, start)
	return m
}

// FrameCount returns number of processed frames
func (m *Manager) FrameCount() int64 {
	return m.frameCount
}

// FPS returns current frame-rate estimate
func (m *Manager) FPS() float64 {
	return m.fps.FPS()
}

// Classes returns class table
func (m *Manager) Classes() ClassTable {
	return m.classes
}

// Store gives read access to records. Records must not be modified by caller.
func (m *Manager) Store() *Store {
	return m.store
}

// occurrence is the last detection of identity on the frame
type occurrence struct {
	det       Detection
	className string
	drawable  bool
}

// ProcessFrame updates records with detections of the next frame and computes events.
func (m *Manager) ProcessFrame(detections []Detection, now time.Time) *FrameResult {
	m.frameCount++
	frame := m.frameCount
	result := &FrameResult{
		FrameNumber: frame,
		Timestamp:   now,
		FPS:         m.fps.Tick(frame, now),
	}

	current := make(map[int64]struct{}, len(detections))
	order := make([]int64, 0, len(detections))
	last := make(map[int64]occurrence, len(detections))

	for _, det := range detections {
		className, err := m.classes.Name(det.ClassIndex)
		if err != nil {
			result.Warnings = append(result.Warnings, errors.Wrapf(err, "track %d", det.TrackID))
		}
		drawable := det.Box.Valid()
		if !drawable {
			result.Warnings = append(result.Warnings, errors.Wrapf(ErrMalformedDetection, "track %d box %+v (policy %s)", det.TrackID, det.Box, m.malformed))
			if m.malformed == MalformedStrict {
				continue
			}
		}
		if _, seen := current[det.TrackID]; !seen {
			current[det.TrackID] = struct{}{}
			order = append(order, det.TrackID)
			m.observe(result, det, className, frame, now)
		}
		// Later duplicates only override what is drawn
		last[det.TrackID] = occurrence{det: det, className: className, drawable: drawable}
	}

	// Everything known but not observed (new records are all in current)
	for _, id := range m.store.IDs() {
		if _, ok := current[id]; ok {
			continue
		}
		rec, _ := m.store.Get(id)
		result.Missing = append(result.Missing, MissingEvent{
			ID:          id,
			ClassName:   rec.ClassName(),
			Duration:    rec.Duration(),
			TotalFrames: rec.TotalFrames(),
			Departed:    rec.LastFrame() == frame-1,
		})
	}
	sort.Slice(result.New, func(i, j int) bool { return result.New[i].ID < result.New[j].ID })
	sort.Slice(result.Reappeared, func(i, j int) bool { return result.Reappeared[i].ID < result.Reappeared[j].ID })

	result.Overlay.Boxes = make([]BoxAnnotation, 0, len(order))
	for _, id := range order {
		occ := last[id]
		if !occ.drawable {
			continue
		}
		// Last occurrence decides the box of the record as well
		if rec, ok := m.store.Get(id); ok {
			rec.setLastBox(occ.det.Box)
		}
		result.Overlay.Boxes = append(result.Overlay.Boxes, newBoxAnnotation(id, occ.className, occ.det.Box))
	}
	result.Overlay.FPS, result.Overlay.Count = newSummaryText(result.FPS, len(current))

	result.Current = make([]int64, len(order))
	copy(result.Current, order)
	sort.Slice(result.Current, func(i, j int) bool { return result.Current[i] < result.Current[j] })

	result.Evicted = m.store.Evict(now, current)

	for _, warning := range result.Warnings {
		monitoring.Logf("presence: frame=%d warning: %v", frame, warning)
	}
	return result
}

// observe creates record on first observation, emits new/reappeared events and registers observation
func (m *Manager) observe(result *FrameResult, det Detection, className string, frame int64, now time.Time) {
	rec, created := m.store.GetOrCreate(det.TrackID, className, now)
	switch {
	case created:
		result.New = append(result.New, NewEvent{
			ID:        rec.ID(),
			ClassName: rec.ClassName(),
			FirstSeen: rec.FirstSeen(),
		})
	case m.reappearEvents && rec.LastFrame() < frame-1:
		result.Reappeared = append(result.Reappeared, ReappearedEvent{
			ID:        rec.ID(),
			ClassName: rec.ClassName(),
			Gap:       frame - 1 - rec.LastFrame(),
			AbsentFor: now.Sub(rec.LastSeen()),
		})
	}
	m.store.Observe(rec, frame, det.Box, now)
}

// Sweep applies retention policy outside of frame processing, e.g. when stream is idle.
func (m *Manager) Sweep(now time.Time) []Summary {
	return m.store.Evict(now, nil)
}
