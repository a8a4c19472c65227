package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "presence.db"), "session-1")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func summary(id int64) presence.Summary {
	return presence.Summary{
		ID:          id,
		ClassName:   "person",
		FirstSeen:   now,
		LastSeen:    now.Add(2 * time.Second),
		Frames:      []int64{1, 2, 5},
		TotalFrames: 3,
		LastBox:     presence.Box{X1: 10, Y1: 20, X2: 30, Y2: 40},
	}
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Second run is a no-op
	require.NoError(t, db.MigrateUp())
}

func TestSaveRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SaveRecords(ctx, []presence.Summary{summary(1), summary(2)}))

	got, err := db.TrackSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, summary(1), got)

	// Same record saved again with more observations replaces the row
	updated := summary(1)
	updated.Frames = append(updated.Frames, 6)
	updated.TotalFrames = 4
	require.NoError(t, db.Archive(ctx, []presence.Summary{updated}, now))
	got, err = db.TrackSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalFrames)
	assert.Equal(t, []int64{1, 2, 5, 6}, got.Frames)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM track_records`).Scan(&rows))
	assert.Equal(t, 2, rows)

	require.NoError(t, db.SaveRecords(ctx, nil))
}

func TestMalformedBoxRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := presence.NewManager(presence.ClassTable{"person"}, now, presence.WithMalformedPolicy(presence.MalformedPermissive))
	m.ProcessFrame([]presence.Detection{{TrackID: 7, Box: presence.Box{X1: math.NaN(), Y1: 0, X2: 10, Y2: 10}}}, now)
	require.NoError(t, db.SaveRecords(ctx, m.Store().Snapshot()))
	got, err := db.TrackSummary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, presence.Box{}, got.LastBox)
	assert.Equal(t, 1, got.TotalFrames)

	// Rows with NULL box columns are still readable
	broken := summary(8)
	broken.LastBox.X1 = math.NaN()
	require.NoError(t, db.SaveRecords(ctx, []presence.Summary{broken}))
	got, err = db.TrackSummary(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, presence.Box{X1: 0, Y1: 20, X2: 30, Y2: 40}, got.LastBox)
}

func TestTrackSummaryNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.TrackSummary(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReport(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	result := &presence.FrameResult{
		FrameNumber: 7,
		Timestamp:   now,
		New:         []presence.NewEvent{{ID: 1, ClassName: "person", FirstSeen: now}},
		Missing: []presence.MissingEvent{
			{ID: 2, ClassName: "car", Duration: time.Second, TotalFrames: 10, Departed: true},
			{ID: 3, ClassName: "car", Duration: time.Second, TotalFrames: 4},
		},
		Reappeared: []presence.ReappearedEvent{{ID: 1, ClassName: "person", Gap: 2, AbsentFor: time.Second}},
		Evicted:    []presence.Summary{summary(5)},
	}
	require.NoError(t, db.Report(ctx, result))

	events, err := db.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventNew, events[0].Type)
	assert.Equal(t, EventReappeared, events[1].Type)
	assert.Equal(t, int64(7), events[0].FrameNumber)
	assert.True(t, events[0].Timestamp.Equal(now))

	events, err = db.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventMissing, events[0].Type)

	// Continued absence is not stored
	events, err = db.Events(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, events)

	got, err := db.TrackSummary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ID)

	// Quiet frame writes nothing
	require.NoError(t, db.Report(ctx, &presence.FrameResult{FrameNumber: 8, Timestamp: now}))
}

func TestSessionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presence.db")
	ctx := context.Background()

	first, err := Open(path, "first")
	require.NoError(t, err)
	require.NoError(t, first.SaveRecords(ctx, []presence.Summary{summary(1)}))
	require.NoError(t, first.Close())

	second, err := Open(path, "second")
	require.NoError(t, err)
	defer second.Close()
	_, err = second.TrackSummary(ctx, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "second", second.SessionID())
}
