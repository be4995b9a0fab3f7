package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens or creates the ledger at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS outcomes (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		local_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (bucket, key)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(bucket, status);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetRecord returns the ledger entry for key, or nil when there is none
func (s *SQLiteStore) GetRecord(bucket, key string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var result *Record
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRow(`
		SELECT bucket, key, local_path, size, status, attempts, last_error, updated_at
		FROM outcomes WHERE bucket = ? AND key = ?
		`, bucket, key)

		record, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}
		result = record
		return nil
	})
	return result, err
}

// SaveRecord inserts or replaces the ledger entry for record.Key
func (s *SQLiteStore) SaveRecord(record *Record) error {
	if s.closed.Load() {
		return ErrClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent workers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveRecord(record)
	})
}

func (s *SQLiteStore) saveRecord(record *Record) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	query := `
	INSERT INTO outcomes
	(bucket, key, local_path, size, status, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(bucket, key) DO UPDATE SET
		local_path = excluded.local_path,
		size = excluded.size,
		status = excluded.status,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		record.Bucket,
		record.Key,
		record.LocalPath,
		record.Size,
		string(record.Status),
		record.Attempts,
		nullString(record.LastError),
		record.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.Key, err)
	}
	return nil
}

// ListFailed returns every key whose last outcome was a failure
func (s *SQLiteStore) ListFailed(bucket string) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
	SELECT bucket, key, local_path, size, status, attempts, last_error, updated_at
	FROM outcomes WHERE bucket = ? AND status = ?
	ORDER BY key ASC
	`, bucket, string(StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record    Record
		status    string
		lastError sql.NullString
		updatedAt int64
	)

	err := row.Scan(
		&record.Bucket,
		&record.Key,
		&record.LocalPath,
		&record.Size,
		&status,
		&record.Attempts,
		&lastError,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = Status(status)
	record.LastError = lastError.String
	record.UpdatedAt = time.UnixMilli(updatedAt)
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond)
	}
	return err
}

func isSQLiteBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
