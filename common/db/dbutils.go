// Package db holds the SQLite helpers shared by the repositories.
package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeToNanos stores a timestamp as unix nanoseconds. INTEGER columns
// compare numerically, so ORDER BY sorts correctly regardless of zone
// offset or fractional seconds.
func TimeToNanos(t time.Time) int64 {
	return t.UnixNano()
}

// NanosToTime is the inverse of TimeToNanos. The result is in UTC; the
// original zone is not round-tripped, only the instant.
func NanosToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// BoolToInt maps a flag onto the 1/0 convention the tables use.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IntToBool reads the 1/0 flag convention back.
func IntToBool(i int) bool {
	return i == 1
}

// OpenFile opens (creating if needed) a file-backed SQLite database.
func OpenFile(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path)
}

// NewInMemoryDB creates an in-memory SQLite database for tests.
func NewInMemoryDB() (*sql.DB, error) {
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
