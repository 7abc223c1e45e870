// Package catalog records finished clips in a local SQLite database, so
// the panel and the HTTP API can show what was shot without scanning the
// output directory.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultkeeperirl-design/PiCAM/common/db"
)

// Clip is one catalogued recording.
type Clip struct {
	// ID is the recording session uuid.
	ID string
	// Number is the clip counter value the recording consumed.
	Number int
	// Path is the absolute clip file path.
	Path string
	// FormatKey is the output format preset key at record time.
	FormatKey string
	// StartedAt is when the encoder was launched.
	StartedAt time.Time
	// Duration is the probed container duration; zero when unknown.
	Duration time.Duration
	// SizeBytes is the file size on disk.
	SizeBytes int64
	// Truncated marks clips whose container could not be probed, which
	// happens after a forced kill.
	Truncated bool
	// ForcedStop marks clips whose encoder had to be killed.
	ForcedStop bool
}

// ClipRepository defines the interface for clip catalog operations
type ClipRepository interface {
	// Add stores a new Clip in the catalog
	Add(ctx context.Context, clip *Clip) error

	// GetByID retrieves a Clip by its session ID
	GetByID(ctx context.Context, id string) (*Clip, error)

	// Recent retrieves the n most recently started clips
	Recent(ctx context.Context, n int) ([]*Clip, error)

	// TotalBytes sums the size of all catalogued clips
	TotalBytes(ctx context.Context) (int64, error)
}

// SQLiteClipRepository implements ClipRepository using SQLite
type SQLiteClipRepository struct {
	db *sql.DB
}

// NewSQLiteClipRepository creates a new SQLite-based ClipRepository
func NewSQLiteClipRepository(database *sql.DB) (*SQLiteClipRepository, error) {
	repo := &SQLiteClipRepository{db: database}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteClipRepository) createTables() error {
	// started_at is unix nanoseconds so recency queries sort numerically.
	createClipsTable := `
	CREATE TABLE IF NOT EXISTS clips (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		path TEXT NOT NULL,
		format_key TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		truncated INTEGER NOT NULL,
		forced_stop INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clips_started_at ON clips(started_at);`

	_, err := r.db.Exec(createClipsTable)
	return err
}

// Add stores a new Clip in the catalog
func (r *SQLiteClipRepository) Add(ctx context.Context, clip *Clip) error {
	query := `
	INSERT INTO clips (id, number, path, format_key, started_at, duration, size_bytes, truncated, forced_stop)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		clip.ID, clip.Number, clip.Path, clip.FormatKey,
		db.TimeToNanos(clip.StartedAt), int64(clip.Duration), clip.SizeBytes,
		db.BoolToInt(clip.Truncated), db.BoolToInt(clip.ForcedStop),
	)
	if err != nil {
		return fmt.Errorf("failed to add clip %s: %w", clip.ID, err)
	}
	return nil
}

// GetByID retrieves a Clip by its session ID
func (r *SQLiteClipRepository) GetByID(ctx context.Context, id string) (*Clip, error) {
	query := `
	SELECT id, number, path, format_key, started_at, duration, size_bytes, truncated, forced_stop
	FROM clips WHERE id = ?`

	clip, err := scanClip(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip %s: %w", id, err)
	}
	return clip, nil
}

// Recent retrieves the n most recently started clips
func (r *SQLiteClipRepository) Recent(ctx context.Context, n int) ([]*Clip, error) {
	query := `
	SELECT id, number, path, format_key, started_at, duration, size_bytes, truncated, forced_stop
	FROM clips ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent clips: %w", err)
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip row: %w", err)
		}
		clips = append(clips, clip)
	}
	return clips, rows.Err()
}

// TotalBytes sums the size of all catalogued clips
func (r *SQLiteClipRepository) TotalBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM clips`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum clip sizes: %w", err)
	}
	return total.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*Clip, error) {
	clip := &Clip{}
	var startedAtNanos, durationNanos int64
	var truncatedInt, forcedInt int

	err := row.Scan(
		&clip.ID, &clip.Number, &clip.Path, &clip.FormatKey,
		&startedAtNanos, &durationNanos, &clip.SizeBytes,
		&truncatedInt, &forcedInt,
	)
	if err != nil {
		return nil, err
	}

	clip.StartedAt = db.NanosToTime(startedAtNanos)
	clip.Duration = time.Duration(durationNanos)
	clip.Truncated = db.IntToBool(truncatedInt)
	clip.ForcedStop = db.IntToBool(forcedInt)
	return clip, nil
}
