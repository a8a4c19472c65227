// Package sink delivers results of frame processing to humans and other systems.
package sink

import (
	"context"
	"time"

	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
)

// Reporter consumes outcome of every processed frame
type Reporter interface {
	Report(ctx context.Context, result *presence.FrameResult) error
}

// Archiver receives records evicted outside of frame processing, e.g. by scheduled retention sweep
type Archiver interface {
	Archive(ctx context.Context, evicted []presence.Summary, now time.Time) error
}

// ReporterFunc is an adapter to use ordinary function as Reporter
type ReporterFunc func(ctx context.Context, result *presence.FrameResult) error

// Report calls f(ctx, result)
func (f ReporterFunc) Report(ctx context.Context, result *presence.FrameResult) error {
	return f(ctx, result)
}

// Multi fans frame result out to every reporter.
// Reporters are called sequentially in given order; failure of one of them does not stop others.
type Multi []Reporter

// Report implements Reporter. The first error is returned, the rest are only counted
func (m Multi) Report(ctx context.Context, result *presence.FrameResult) error {
	var firstErr error
	failed := 0
	for i, reporter := range m {
		if reporter == nil {
			continue
		}
		if err := reporter.Report(ctx, result); err != nil {
			failed++
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "reporter #%d", i)
			}
		}
	}
	if failed > 1 {
		return errors.Wrapf(firstErr, "%d reporters failed", failed)
	}
	return firstErr
}

// Archive implements Archiver for members which are archivers as well
func (m Multi) Archive(ctx context.Context, evicted []presence.Summary, now time.Time) error {
	var firstErr error
	for i, reporter := range m {
		archiver, ok := reporter.(Archiver)
		if !ok {
			continue
		}
		if err := archiver.Archive(ctx, evicted, now); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "archiver #%d", i)
		}
	}
	return firstErr
}
