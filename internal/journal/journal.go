// Package journal keeps a SQLite record of every processed part so failed
// uploads can be diagnosed after the response has gone out.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS part_outcomes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id   TEXT    NOT NULL,
	part_index   INTEGER NOT NULL,
	form_name    TEXT    NOT NULL,
	filename     TEXT    NOT NULL,
	content_type TEXT    NOT NULL,
	success      INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	reason       TEXT    NOT NULL,
	bytes_in     INTEGER NOT NULL,
	bytes_out    INTEGER NOT NULL,
	duration_ms  REAL    NOT NULL,
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS part_outcomes_request ON part_outcomes (request_id);
`

// Entry is the outcome of one part of one request
type Entry struct {
	RequestID   string        `json:"request_id"`
	Index       int           `json:"index"`
	FormName    string        `json:"form_name"`
	Filename    string        `json:"filename"`
	ContentType string        `json:"content_type"`
	Success     bool          `json:"success"`
	Kind        string        `json:"kind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	BytesIn     int           `json:"bytes_in"`
	BytesOut    int           `json:"bytes_out"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Journal writes entries from a single goroutine. Record never blocks;
// entries that do not fit in the buffer are dropped.
type Journal struct {
	db      *sql.DB
	entries chan Entry
	logger  zerolog.Logger
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// Open opens or creates the journal database at path
func Open(path string, buffer int, logger zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// one writer goroutine; readers share the same connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	if buffer <= 0 {
		buffer = 1
	}
	j := &Journal{
		db:      db,
		entries: make(chan Entry, buffer),
		logger:  logger,
	}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

func (j *Journal) writer() {
	defer j.wg.Done()
	for e := range j.entries {
		if err := j.insert(e); err != nil {
			j.logger.Warn().Err(err).Str("request_id", e.RequestID).Int("part", e.Index).Msg("journal write failed")
		}
	}
}

func (j *Journal) insert(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.Exec(
		`INSERT INTO part_outcomes
			(request_id, part_index, form_name, filename, content_type, success, kind, reason,
			 bytes_in, bytes_out, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Index, e.FormName, e.Filename, e.ContentType, e.Success, e.Kind, e.Reason,
		e.BytesIn, e.BytesOut, float64(e.Duration)/float64(time.Millisecond),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Record queues an entry for writing
func (j *Journal) Record(e Entry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- e:
	default:
		j.logger.Warn().Str("request_id", e.RequestID).Int("part", e.Index).Msg("journal buffer full, dropping entry")
	}
}

// Recent returns up to limit entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT request_id, part_index, form_name, filename, content_type, success, kind, reason,
			bytes_in, bytes_out, duration_ms, created_at
		 FROM part_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			durationMs float64
			createdAt  string
		)
		if err := rows.Scan(&e.RequestID, &e.Index, &e.FormName, &e.Filename, &e.ContentType,
			&e.Success, &e.Kind, &e.Reason, &e.BytesIn, &e.BytesOut, &durationMs, &createdAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMs * float64(time.Millisecond))
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes queued entries and closes the database
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.entries)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}
