package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the event log in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// A single writer keeps appends serialized at the database level too.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migrate event log")
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        sequence INTEGER PRIMARY KEY,
        type TEXT NOT NULL,
        data TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        prev_hash TEXT NOT NULL,
        hash TEXT NOT NULL UNIQUE
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts an entry
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	query := `INSERT INTO events (sequence, type, data, timestamp, prev_hash, hash) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.Sequence, string(e.Type), string(e.Data), e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash, e.Hash,
	)
	if err != nil {
		return errors.Wrapf(err, "insert event %d", e.Sequence)
	}
	return nil
}

// Since returns up to limit entries after the given sequence
func (s *SQLiteStore) Since(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT sequence, type, data, timestamp, prev_hash, hash
        FROM events
        WHERE sequence > ?
        ORDER BY sequence ASC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Last returns the newest entry
func (s *SQLiteStore) Last(ctx context.Context) (Entry, bool, error) {
	query := `
        SELECT sequence, type, data, timestamp, prev_hash, hash
        FROM events
        ORDER BY sequence DESC
        LIMIT 1
    `
	e, err := scanEntry(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		typ       string
		data      string
		timestamp string
	)
	if err := row.Scan(&e.Sequence, &typ, &data, &timestamp, &e.PrevHash, &e.Hash); err != nil {
		return Entry{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "parse timestamp of event %d", e.Sequence)
	}
	e.Type = model.EventType(typ)
	e.Data = json.RawMessage(data)
	e.Timestamp = ts
	return e, nil
}
