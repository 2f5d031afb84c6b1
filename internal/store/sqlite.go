// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A plain :memory: database exists per connection, so a second pooled
	// connection would see a fresh schema-less database. Pin the pool to a
	// single connection to keep one shared in-memory database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			turn_seq INTEGER NOT NULL DEFAULT 0,
			itinerary_version INTEGER,
			itinerary_json TEXT,
			profile_json TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id),
			UNIQUE (thread_id, seq),
			CHECK (role IN ('user', 'agent', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_seq
			ON messages(thread_id, seq);

		CREATE TABLE IF NOT EXISTS turn_usage (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turn_usage_thread
			ON turn_usage(thread_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// GetOrCreateThread returns the thread with the given id, creating an empty
// one if it does not exist. Safe under concurrent calls with the same id:
// exactly one caller creates, the rest read the created row.
func (s *SQLiteStore) GetOrCreateThread(ctx context.Context, id string) (*Thread, bool, error) {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, turn_seq, created_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting thread: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}
	created := rows > 0

	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Debug("thread created", "thread_id", id)
	}
	return thread, created, nil
}

// GetThread retrieves a thread by ID. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, turn_seq, created_at, updated_at FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

// ListThreads returns threads ordered by most recent activity.
func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_seq, created_at, updated_at
		 FROM threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ReadSnapshot returns an immutable copy of the thread's committed state.
func (s *SQLiteStore) ReadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT turn_seq, itinerary_version, itinerary_json, profile_json
		 FROM threads WHERE id = ?`, id)

	var turnSeq int64
	var itineraryVersion sql.NullInt64
	var itineraryJSON, profileJSON sql.NullString
	if err := row.Scan(&turnSeq, &itineraryVersion, &itineraryJSON, &profileJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning thread state: %w", err)
	}

	snap := &Snapshot{
		ThreadID: id,
		TurnSeq:  turnSeq,
	}
	if itineraryJSON.Valid {
		snap.Itinerary = &Itinerary{
			Version: int(itineraryVersion.Int64),
			Data:    json.RawMessage(itineraryJSON.String),
		}
	}
	if profileJSON.Valid {
		snap.Profile = json.RawMessage(profileJSON.String)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, seq, role, content, created_at
		 FROM messages WHERE thread_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg := &Message{}
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Seq, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, rows.Err()
}

// CommitTurn applies one turn's delta in a single transaction: messages are
// appended with contiguous sequence numbers continuing from the current
// maximum, the itinerary/profile blobs are replaced when provided, the turn
// counter advances, and usage is recorded. Either everything lands or
// nothing does.
func (s *SQLiteStore) CommitTurn(ctx context.Context, commit *TurnCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var turnSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT turn_seq FROM threads WHERE id = ?`, commit.ThreadID).Scan(&turnSeq)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading turn_seq: %w", err)
	}

	var maxSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, commit.ThreadID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max seq: %w", err)
	}

	now := time.Now().UTC()
	for i, draft := range commit.Messages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, thread_id, seq, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(),
			commit.ThreadID,
			maxSeq+int64(i)+1,
			draft.Role,
			draft.Content,
			now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	query := `UPDATE threads SET turn_seq = ?, updated_at = ?`
	args := []any{turnSeq + 1, now.Format(time.RFC3339Nano)}
	if commit.Itinerary != nil {
		query += `, itinerary_version = ?, itinerary_json = ?`
		args = append(args, commit.Itinerary.Version, string(commit.Itinerary.Data))
	}
	if commit.Profile != nil {
		query += `, profile_json = ?`
		args = append(args, string(commit.Profile))
	}
	query += ` WHERE id = ?`
	args = append(args, commit.ThreadID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}

	if commit.Usage != nil {
		usage := commit.Usage
		id := usage.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turn_usage (id, thread_id, turn_id, input_tokens, output_tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, commit.ThreadID, commit.TurnID,
			usage.InputTokens, usage.OutputTokens,
			now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("inserting usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("turn committed",
		"thread_id", commit.ThreadID,
		"turn_id", commit.TurnID,
		"messages", len(commit.Messages),
		"turn_seq", turnSeq+1,
	)
	return nil
}

// GetThreadUsage retrieves all usage records for a thread, oldest first.
func (s *SQLiteStore) GetThreadUsage(ctx context.Context, threadID string) ([]*TokenUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, turn_id, input_tokens, output_tokens, created_at
		 FROM turn_usage WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var usages []*TokenUsage
	for rows.Next() {
		u := &TokenUsage{}
		var createdAt string
		if err := rows.Scan(&u.ID, &u.ThreadID, &u.TurnID, &u.InputTokens, &u.OutputTokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanThread.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*Thread, error) {
	t := &Thread{}
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.TurnSeq, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning thread: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return t, nil
}
