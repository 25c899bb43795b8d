package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
)

// SQLiteStore is the SQLite-backed queue database. It survives process
// restarts; that is the whole point of the queue.
type SQLiteStore struct {
	db       *sql.DB
	clientID string
}

// NewSQLiteStore opens (or creates) the queue database at dbPath.
// It enables WAL mode, runs migrations, normalizes any record left in the
// syncing state by a previous process, and ensures a persisted client ID.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// "syncing" cannot durably survive a restart: an in-flight attempt died
	// with the process, so the record goes back to pending.
	if _, err := db.Exec(
		`UPDATE queued_matches SET status = ? WHERE status = ?`,
		StatusPending, StatusSyncing,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("normalize syncing records: %w", err)
	}

	clientID, err := ensureClientID(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure client id: %w", err)
	}

	return &SQLiteStore{db: db, clientID: clientID}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// ensureClientID returns the persisted device identity, generating and
// storing one on first run.
func ensureClientID(db *sql.DB) (string, error) {
	var id string
	err := db.QueryRow(`SELECT client_id FROM client_info WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		id = uuid.New().String()
		if _, err := db.Exec(
			`INSERT INTO client_info (id, client_id) VALUES (1, ?)`, id,
		); err != nil {
			return "", err
		}
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClientID returns the persisted device identity.
func (s *SQLiteStore) ClientID() string { return s.clientID }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Insert persists a new queued match. Storage failures are returned loudly
// so the caller can tell the user the match was NOT saved.
func (s *SQLiteStore) Insert(ctx context.Context, rec *QueuedMatch) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return storageError("marshal payload", err)
	}
	snapshots, err := json.Marshal(rec.Snapshots)
	if err != nil {
		return storageError("marshal snapshots", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queued_matches (id, payload, fingerprint, snapshots, status, retry_count, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(payload), rec.Fingerprint, string(snapshots),
		rec.Status, rec.RetryCount, rec.QueuedAt.UTC().Format(timeLayout))
	if err != nil {
		return storageError("insert", err)
	}
	return nil
}

// timeLayout is RFC 3339 with a fixed-width fraction so stored timestamps
// compare correctly as text (RFC3339Nano trims trailing zeros).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `id, payload, fingerprint, snapshots, status, retry_count, queued_at, last_attempt_at, last_error`

// Get returns a single queued match by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*QueuedMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM queued_matches WHERE id = ?`, id)

	rec, err := scanQueuedMatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageError("get", err)
	}
	return rec, nil
}

// List returns all queued matches, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]QueuedMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM queued_matches ORDER BY queued_at ASC, id ASC`)
	if err != nil {
		return nil, storageError("list", err)
	}
	defer rows.Close()

	var recs []QueuedMatch
	for rows.Next() {
		rec, err := scanQueuedMatch(rows)
		if err != nil {
			return nil, storageError("scan", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate", err)
	}
	return recs, nil
}

// Update applies a partial update to one record.
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) error {
	var sets []string
	var args []any

	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if p.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *p.RetryCount)
	}
	if p.LastAttemptAt != nil {
		sets = append(sets, "last_attempt_at = ?")
		args = append(args, p.LastAttemptAt.UTC().Format(timeLayout))
	}
	if p.LastError != nil {
		encoded, err := json.Marshal(p.LastError)
		if err != nil {
			return storageError("marshal last_error", err)
		}
		sets = append(sets, "last_error = ?")
		args = append(args, string(encoded))
	} else if p.ClearLastError {
		sets = append(sets, "last_error = NULL")
	}
	if p.Payload != nil {
		encoded, err := json.Marshal(p.Payload)
		if err != nil {
			return storageError("marshal payload", err)
		}
		sets = append(sets, "payload = ?")
		args = append(args, string(encoded))
	}
	if p.Fingerprint != nil {
		sets = append(sets, "fingerprint = ?")
		args = append(args, *p.Fingerprint)
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE queued_matches SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storageError("update", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record. Deleting an already-deleted record is not an
// error; the bool reports whether a row was actually removed.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM queued_matches WHERE id = ?`, id)
	if err != nil {
		return false, storageError("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storageError("rows affected", err)
	}
	return affected > 0, nil
}

// Count returns the number of queued matches.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_matches`).Scan(&count); err != nil {
		return 0, storageError("count", err)
	}
	return count, nil
}

// HasRecentFingerprint reports whether a live record with this fingerprint
// was queued at or after since.
func (s *SQLiteStore) HasRecentFingerprint(ctx context.Context, fp string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queued_matches
		WHERE fingerprint = ? AND queued_at >= ?
	`, fp, since.UTC().Format(timeLayout)).Scan(&count)
	if err != nil {
		return false, storageError("recent fingerprint", err)
	}
	return count > 0, nil
}

// MarkSynced remembers a delivered fingerprint for ttl. It also purges
// expired entries, so the table never grows past a few minutes of history.
func (s *SQLiteStore) MarkSynced(ctx context.Context, fp, serverID string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_fingerprints (fingerprint, server_id, synced_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			server_id = excluded.server_id,
			synced_at = excluded.synced_at,
			expires_at = excluded.expires_at
	`, fp, serverID, now.Format(timeLayout), now.Add(ttl).Format(timeLayout))
	if err != nil {
		return storageError("mark synced", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM synced_fingerprints WHERE expires_at < ?`,
		now.Format(timeLayout))
	if err != nil {
		return storageError("purge synced", err)
	}
	return nil
}

// RecentlySynced reports whether this fingerprint was delivered within its
// remembered window.
func (s *SQLiteStore) RecentlySynced(ctx context.Context, fp string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM synced_fingerprints
		WHERE fingerprint = ? AND expires_at >= ?
	`, fp, time.Now().UTC().Format(timeLayout)).Scan(&count)
	if err != nil {
		return false, storageError("recently synced", err)
	}
	return count > 0, nil
}

// scanQueuedMatch scans a row into a QueuedMatch, decoding the JSON columns.
func scanQueuedMatch(scanner interface{ Scan(...any) error }) (*QueuedMatch, error) {
	var rec QueuedMatch
	var payload, snapshots, queuedAt string
	var lastAttemptAt, lastError sql.NullString

	err := scanner.Scan(
		&rec.ID,
		&payload,
		&rec.Fingerprint,
		&snapshots,
		&rec.Status,
		&rec.RetryCount,
		&queuedAt,
		&lastAttemptAt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	var result match.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("parse payload JSON: %w", err)
	}
	rec.Payload = result

	if err := json.Unmarshal([]byte(snapshots), &rec.Snapshots); err != nil {
		return nil, fmt.Errorf("parse snapshots JSON: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
		rec.QueuedAt = t
	}
	if lastAttemptAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String); err == nil {
			rec.LastAttemptAt = &t
		}
	}
	if lastError.Valid && lastError.String != "" {
		var se SyncError
		if err := json.Unmarshal([]byte(lastError.String), &se); err != nil {
			return nil, fmt.Errorf("parse last_error JSON: %w", err)
		}
		rec.LastError = &se
	}

	return &rec, nil
}
