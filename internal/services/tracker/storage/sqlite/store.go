// Package sqlite provides the SQLite-backed journey store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/etle/vtrack/internal/platform/pagination"
	"github.com/etle/vtrack/internal/platform/storage/sqlitemigrate"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/storage"
	"github.com/etle/vtrack/internal/services/tracker/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const journeyColumns = `id, visitor_name, plate_number, destination, status, started_at, ended_at`

var journeyPageSize = pagination.PageSizeConfig{Default: 20, Max: 100}

// Store persists journeys and detections in SQLite. The *sql.DB pool hands
// each call its own connection.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullableMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

// Open opens the tracker store at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func ensureForeignKeysEnabled(ctx context.Context, db *sql.DB) error {
	var enabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// CreateJourney inserts a new journey.
func (s *Store) CreateJourney(ctx context.Context, j domain.Journey) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("journey id is required")
	}
	if j.PlateNumber == "" {
		return fmt.Errorf("plate number is required")
	}
	if j.StartedAt.IsZero() {
		return fmt.Errorf("start time is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO journeys (`+journeyColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		j.ID,
		j.VisitorName,
		j.PlateNumber,
		j.Destination,
		string(j.Status),
		toMillis(j.StartedAt),
		nullableMillis(j.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create journey %s: %w", j.ID, storage.ErrConflict)
		}
		return fmt.Errorf("create journey: %w", err)
	}
	return nil
}

// GetJourney loads one journey by id.
func (s *Store) GetJourney(ctx context.Context, id string) (domain.Journey, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Journey{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id = ?`, id)
	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Journey{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Journey{}, fmt.Errorf("get journey: %w", err)
	}
	return j, nil
}

// FindActiveJourneysByPlate returns in-flight journeys for plate, newest first.
func (s *Store) FindActiveJourneysByPlate(ctx context.Context, plate string) ([]domain.Journey, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryJourneys(ctx, `
SELECT `+journeyColumns+`
FROM journeys
WHERE plate_number = ? AND status IN (?, ?)
ORDER BY started_at DESC, id DESC
`, plate, string(domain.StatusPending), string(domain.StatusNeedsManualReview))
}

// ListActiveJourneys returns every in-flight journey, newest first.
func (s *Store) ListActiveJourneys(ctx context.Context) ([]domain.Journey, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryJourneys(ctx, `
SELECT `+journeyColumns+`
FROM journeys
WHERE status IN (?, ?)
ORDER BY started_at DESC, id DESC
`, string(domain.StatusPending), string(domain.StatusNeedsManualReview))
}

// ListJourneys returns one page of journey history, newest first.
func (s *Store) ListJourneys(ctx context.Context, query storage.ListQuery) (storage.JourneyPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.JourneyPage{}, err
	}
	offset, err := pagination.DecodeToken(strings.TrimSpace(query.PageToken))
	if err != nil {
		return storage.JourneyPage{}, err
	}
	size := pagination.ClampPageSize(query.PageSize, journeyPageSize)

	where := ""
	args := make([]any, 0, len(query.Filter.Params)+2)
	if !query.Filter.Empty() {
		where = "WHERE " + query.Filter.Clause
		args = append(args, query.Filter.Params...)
	}
	args = append(args, size+1, offset)

	journeys, err := s.queryJourneys(ctx, `
SELECT `+journeyColumns+`
FROM journeys
`+where+`
ORDER BY started_at DESC, id DESC
LIMIT ? OFFSET ?
`, args...)
	if err != nil {
		return storage.JourneyPage{}, err
	}

	page := storage.JourneyPage{Journeys: journeys}
	if len(journeys) > size {
		page.Journeys = journeys[:size]
		page.NextPageToken = pagination.EncodeToken(offset + size)
	}
	return page, nil
}

func (s *Store) queryJourneys(ctx context.Context, query string, args ...any) ([]domain.Journey, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journeys: %w", err)
	}
	defer rows.Close()

	var journeys []domain.Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		journeys = append(journeys, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journeys: %w", err)
	}
	return journeys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (domain.Journey, error) {
	var (
		j         domain.Journey
		status    string
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.VisitorName, &j.PlateNumber, &j.Destination, &status, &startedAt, &endedAt); err != nil {
		return domain.Journey{}, err
	}
	j.Status = domain.Status(status)
	j.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		j.EndedAt = fromMillis(endedAt.Int64)
	}
	return j, nil
}

// UpdateJourneyStatus moves a journey from change.From to change.To.
func (s *Store) UpdateJourneyStatus(ctx context.Context, change storage.StatusChange) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE journeys SET status = ?, ended_at = ?
WHERE id = ? AND status = ?
`, string(change.To), nullableMillis(change.EndedAt), change.JourneyID, string(change.From))
	if err != nil {
		return fmt.Errorf("update journey status: %w", err)
	}
	return s.expectOneRow(ctx, s.sqlDB, result, change.JourneyID)
}

// ApplyVerification records a human verdict and, when asked, relabels the
// journey's detections in the same transaction.
func (s *Store) ApplyVerification(ctx context.Context, v storage.Verification) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !v.Verdict.Terminal() {
		return fmt.Errorf("verdict must be terminal, got %s", v.Verdict)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE journeys SET plate_number = ?, status = ?, ended_at = ?
WHERE id = ? AND status = ?
`, v.PlateNumber, string(v.Verdict), toMillis(v.EndedAt), v.JourneyID, string(v.From))
	if err != nil {
		return fmt.Errorf("apply verification: %w", err)
	}
	if err := s.expectOneRow(ctx, tx, result, v.JourneyID); err != nil {
		return err
	}
	if v.RelabelDetections {
		if _, err := tx.ExecContext(ctx,
			`UPDATE detections SET plate_number = ? WHERE journey_id = ?`,
			v.PlateNumber, v.JourneyID,
		); err != nil {
			return fmt.Errorf("relabel detections: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verification: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// expectOneRow turns a zero-row compare-and-set into ErrNotFound or ErrConflict.
func (s *Store) expectOneRow(ctx context.Context, q queryer, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	var found int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM journeys WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check journey: %w", err)
	}
	return storage.ErrConflict
}

// InsertDetection stores d and returns it with its assigned id.
func (s *Store) InsertDetection(ctx context.Context, d domain.Detection) (domain.Detection, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Detection{}, err
	}
	if d.Checkpoint <= 0 {
		return domain.Detection{}, fmt.Errorf("checkpoint id is required")
	}
	if d.DetectedAt.IsZero() {
		return domain.Detection{}, fmt.Errorf("detection time is required")
	}

	journeyID := sql.NullString{String: d.JourneyID, Valid: d.JourneyID != ""}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO detections (journey_id, plate_number, checkpoint_id, detected_at, confidence, evidence_path)
VALUES (?, ?, ?, ?, ?, ?)
`, journeyID, d.PlateNumber, int(d.Checkpoint), toMillis(d.DetectedAt), d.Confidence, d.EvidencePath)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Detection{}, storage.ErrDuplicate
		}
		return domain.Detection{}, fmt.Errorf("insert detection: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.Detection{}, fmt.Errorf("detection id: %w", err)
	}
	d.ID = id
	d.DetectedAt = fromMillis(toMillis(d.DetectedAt))
	return d, nil
}

// ListDetections returns a journey's detections in arrival order. Camera
// timestamps do not decide order.
func (s *Store) ListDetections(ctx context.Context, journeyID string) ([]domain.Detection, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, journey_id, plate_number, checkpoint_id, detected_at, confidence, evidence_path
FROM detections
WHERE journey_id = ?
ORDER BY id
`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var detections []domain.Detection
	for rows.Next() {
		var (
			d          domain.Detection
			jid        sql.NullString
			checkpoint int
			detectedAt int64
		)
		if err := rows.Scan(&d.ID, &jid, &d.PlateNumber, &checkpoint, &detectedAt, &d.Confidence, &d.EvidencePath); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.JourneyID = jid.String
		d.Checkpoint = domain.CheckpointID(checkpoint)
		d.DetectedAt = fromMillis(detectedAt)
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return detections, nil
}

// CountDetections counts all detections and those since the start of now's
// day, ISO week, and month, in now's location.
func (s *Store) CountDetections(ctx context.Context, now time.Time) (storage.DetectionCounts, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DetectionCounts{}, err
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	week := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var counts storage.DetectionCounts
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END), 0)
FROM detections
`, toMillis(day), toMillis(week), toMillis(month)).Scan(&counts.Total, &counts.Today, &counts.Week, &counts.Month)
	if err != nil {
		return storage.DetectionCounts{}, fmt.Errorf("count detections: %w", err)
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.Store = (*Store)(nil)
