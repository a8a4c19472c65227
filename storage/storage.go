// Package storage archives presence records and lifecycle events in SQLite.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when nothing is archived for track identity
var ErrNotFound = errors.New("track not found")

// Event types stored in track_events
const (
	EventNew        = "new"
	EventMissing    = "missing"
	EventReappeared = "reappeared"
)

// DB is SQLite archive of a single run (session)
type DB struct {
	*sql.DB
	sessionID string
}

// Open opens (creates) database at path and applies pending migrations
func Open(path string, sessionID string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open sqlite database %s", path)
	}
	// Single writer: the capture loop
	conn.SetMaxOpenConns(1)
	db := &DB{DB: conn, sessionID: sessionID}
	if err := db.MigrateUp(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// SessionID returns identifier rows of this run are stored with
func (db *DB) SessionID() string {
	return db.sessionID
}

// MigrateUp runs all pending migrations up to the latest version
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the underlying connection
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (db *DB) MigrateVersion() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "can't read embedded migrations")
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "can't create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, errors.Wrap(err, "can't create migrate instance")
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("storage: [migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// SaveRecords archives records. Record saved twice (e.g. evicted, then final snapshot) is replaced
func (db *DB) SaveRecords(ctx context.Context, summaries []presence.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback()
	if err := saveRecords(ctx, tx, db.sessionID, summaries); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "can't commit records")
}

func saveRecords(ctx context.Context, tx *sql.Tx, sessionID string, summaries []presence.Summary) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO track_records (
			session_id, track_id, class_name, first_seen_ns, last_seen_ns,
			total_frames, frames, last_x1, last_y1, last_x2, last_y2
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "can't prepare record insert")
	}
	defer stmt.Close()
	for _, s := range summaries {
		frames, err := json.Marshal(s.Frames)
		if err != nil {
			return errors.Wrapf(err, "can't encode frames of track %d", s.ID)
		}
		_, err = stmt.ExecContext(ctx,
			sessionID, s.ID, s.ClassName, s.FirstSeen.UnixNano(), s.LastSeen.UnixNano(),
			s.TotalFrames, string(frames), s.LastBox.X1, s.LastBox.Y1, s.LastBox.X2, s.LastBox.Y2,
		)
		if err != nil {
			return errors.Wrapf(err, "can't save track %d", s.ID)
		}
	}
	return nil
}

// SaveEvents archives new, departed and reappeared events of the frame.
// Continued absence is not stored: only the first frame of it.
func (db *DB) SaveEvents(ctx context.Context, result *presence.FrameResult) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback()
	if err := saveEvents(ctx, tx, db.sessionID, result); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "can't commit events")
}

func saveEvents(ctx context.Context, tx *sql.Tx, sessionID string, result *presence.FrameResult) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO track_events (
			session_id, event_type, frame_number, ts_ns, track_id, class_name,
			duration_ms, total_frames, gap
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "can't prepare event insert")
	}
	defer stmt.Close()
	ts := result.Timestamp.UnixNano()
	for _, e := range result.New {
		_, err := stmt.ExecContext(ctx, sessionID, EventNew, result.FrameNumber, ts, e.ID, e.ClassName, nil, nil, nil)
		if err != nil {
			return errors.Wrapf(err, "can't save new event of track %d", e.ID)
		}
	}
	for _, e := range result.Missing {
		if !e.Departed {
			continue
		}
		_, err := stmt.ExecContext(ctx, sessionID, EventMissing, result.FrameNumber, ts, e.ID, e.ClassName, e.Duration.Milliseconds(), e.TotalFrames, nil)
		if err != nil {
			return errors.Wrapf(err, "can't save missing event of track %d", e.ID)
		}
	}
	for _, e := range result.Reappeared {
		_, err := stmt.ExecContext(ctx, sessionID, EventReappeared, result.FrameNumber, ts, e.ID, e.ClassName, e.AbsentFor.Milliseconds(), nil, e.Gap)
		if err != nil {
			return errors.Wrapf(err, "can't save reappeared event of track %d", e.ID)
		}
	}
	return nil
}

// Report implements sink.Reporter: frame events and evicted records are stored in single transaction
func (db *DB) Report(ctx context.Context, result *presence.FrameResult) error {
	if len(result.New) == 0 && len(result.Missing) == 0 && len(result.Reappeared) == 0 && len(result.Evicted) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback()
	if err := saveEvents(ctx, tx, db.sessionID, result); err != nil {
		return err
	}
	if err := saveRecords(ctx, tx, db.sessionID, result.Evicted); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "can't commit frame")
}

// Archive implements sink.Archiver
func (db *DB) Archive(ctx context.Context, evicted []presence.Summary, _ time.Time) error {
	return db.SaveRecords(ctx, evicted)
}

// TrackSummary returns the latest archived record of track identity within this session
func (db *DB) TrackSummary(ctx context.Context, trackID int64) (presence.Summary, error) {
	row := db.QueryRowContext(ctx, `SELECT track_id, class_name, first_seen_ns, last_seen_ns, total_frames, frames,
			last_x1, last_y1, last_x2, last_y2
		FROM track_records
		WHERE session_id = ? AND track_id = ?
		ORDER BY first_seen_ns DESC
		LIMIT 1`, db.sessionID, trackID)

	// Non-finite box coordinates end up as NULL
	var (
		s                     presence.Summary
		firstSeenNs, lastSeen int64
		frames                string
		x1, y1, x2, y2        sql.NullFloat64
	)
	err := row.Scan(&s.ID, &s.ClassName, &firstSeenNs, &lastSeen, &s.TotalFrames, &frames,
		&x1, &y1, &x2, &y2)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Summary{}, errors.Wrapf(ErrNotFound, "track %d", trackID)
	}
	if err != nil {
		return presence.Summary{}, errors.Wrapf(err, "can't read track %d", trackID)
	}
	if err := json.Unmarshal([]byte(frames), &s.Frames); err != nil {
		return presence.Summary{}, errors.Wrapf(err, "can't decode frames of track %d", trackID)
	}
	s.LastBox = presence.Box{X1: x1.Float64, Y1: y1.Float64, X2: x2.Float64, Y2: y2.Float64}
	s.FirstSeen = time.Unix(0, firstSeenNs).UTC()
	s.LastSeen = time.Unix(0, lastSeen).UTC()
	return s, nil
}

// EventRow is stored lifecycle event
type EventRow struct {
	Type        string
	FrameNumber int64
	Timestamp   time.Time
	TrackID     int64
	ClassName   string
}

// Events returns stored events of track identity within this session in insertion order
func (db *DB) Events(ctx context.Context, trackID int64) ([]EventRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT event_type, frame_number, ts_ns, track_id, class_name
		FROM track_events
		WHERE session_id = ? AND track_id = ?
		ORDER BY event_id`, db.sessionID, trackID)
	if err != nil {
		return nil, errors.Wrapf(err, "can't query events of track %d", trackID)
	}
	defer rows.Close()
	events := make([]EventRow, 0)
	for rows.Next() {
		var (
			e  EventRow
			ts int64
		)
		if err := rows.Scan(&e.Type, &e.FrameNumber, &ts, &e.TrackID, &e.ClassName); err != nil {
			return nil, errors.Wrap(err, "can't scan event")
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	return events, errors.Wrap(rows.Err(), "can't iterate events")
}
