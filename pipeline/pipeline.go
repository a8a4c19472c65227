package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/LdDl/mot-presence/sink"
)

// TrackerError is returned when engine fails to produce detections for the frame.
// It matches presence.ErrUpstreamTracker with errors.Is.
type TrackerError struct {
	Frame int64
	Err   error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("%s: frame %d: %v", presence.ErrUpstreamTracker, e.Frame, e.Err)
}

// Unwrap returns engine error
func (e *TrackerError) Unwrap() error {
	return e.Err
}

// Is reports whether target is presence.ErrUpstreamTracker
func (e *TrackerError) Is(target error) bool {
	return target == presence.ErrUpstreamTracker
}

// Pipeline runs engine, presence manager and reporters for a single video stream.
// It has the same ownership rules as presence.Manager: Process and Sweep must be
// called from single goroutine.
type Pipeline[F any] struct {
	engine   Engine[F]
	manager  *presence.Manager
	reporter sink.Reporter
	archiver sink.Archiver
	// Number of engine failures in a row
	failures int
}

// New creates pipeline. Manager is built for the engine's class table with given options
func New[F any](engine Engine[F], start time.Time, reporter sink.Reporter, archiver sink.Archiver, options ...presence.Option) *Pipeline[F] {
	return &Pipeline[F]{
		engine:   engine,
		manager:  presence.NewManager(engine.Classes(), start, options...),
		reporter: reporter,
		archiver: archiver,
	}
}

// Manager returns underlying presence manager
func (p *Pipeline[F]) Manager() *presence.Manager {
	return p.manager
}

// Process tracks objects on the frame and updates presence state.
// Engine failure is returned as *TrackerError; manager is not called in that case,
// so frame counter does not advance. Reporter failures are logged only.
func (p *Pipeline[F]) Process(ctx context.Context, frame F, now time.Time) (*presence.FrameResult, error) {
	detections, err := p.engine.Track(ctx, frame)
	if err != nil {
		p.failures++
		return nil, &TrackerError{Frame: p.manager.FrameCount() + 1, Err: err}
	}
	if p.failures > 0 {
		monitoring.Logf("pipeline: engine recovered after %d failed frames", p.failures)
		p.failures = 0
	}
	result := p.manager.ProcessFrame(detections, now)
	if p.reporter != nil {
		if err := p.reporter.Report(ctx, result); err != nil {
			monitoring.Logf("pipeline: frame=%d report failed: %v", result.FrameNumber, err)
		}
	}
	return result, nil
}

// Sweep applies retention policy between frames and hands evicted records to archiver
func (p *Pipeline[F]) Sweep(ctx context.Context, now time.Time) []presence.Summary {
	evicted := p.manager.Sweep(now)
	if len(evicted) == 0 || p.archiver == nil {
		return evicted
	}
	if err := p.archiver.Archive(ctx, evicted, now); err != nil {
		monitoring.Logf("pipeline: archive of %d evicted records failed: %v", len(evicted), err)
	}
	return evicted
}
