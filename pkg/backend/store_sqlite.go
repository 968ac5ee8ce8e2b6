package backend

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

	"github.com/dotsetgreg/trackersync/pkg/remote"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a reference implementation of the remote session store.
// Every conversation keeps a dense, 1-based event index so clients can ask
// for "everything after N".
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// StoreStats summarizes what the store holds.
type StoreStats struct {
	Conversations int64 `json:"conversations"`
	Events        int64 `json:"events"`
}

// NewSQLiteStore creates/opens the store database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create backend db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Index assignment reads then writes inside one transaction; a single
	// connection keeps writers from interleaving.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			project_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			tracker_json TEXT NOT NULL DEFAULT '{}',
			last_index INTEGER NOT NULL DEFAULT 0,
			last_timestamp REAL NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (project_id, sender_id)
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_events (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			timestamp REAL NOT NULL,
			event_json TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversation_events_idx ON conversation_events(project_id, sender_id, idx);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init backend schema: %w", err)
		}
	}
	return nil
}

type conversationRow struct {
	state         tracker.Snapshot
	lastIndex     int64
	lastTimestamp float64
}

func loadConversation(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, projectID, senderID string) (conversationRow, bool, error) {
	var (
		row      conversationRow
		stateRaw string
	)
	err := q.QueryRowContext(ctx, `
SELECT tracker_json, last_index, last_timestamp
FROM conversations
WHERE project_id = ? AND sender_id = ?`, projectID, senderID).Scan(&stateRaw, &row.lastIndex, &row.lastTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return conversationRow{}, false, nil
	}
	if err != nil {
		return conversationRow{}, false, fmt.Errorf("load conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(stateRaw), &row.state); err != nil {
		return conversationRow{}, false, fmt.Errorf("decode conversation state: %w", err)
	}
	return row, true, nil
}

// FetchAfter returns the conversation's events with an index greater than
// after, keeping only the last maxEvents of them when maxEvents is positive. The
// envelope's tracker is nil when there is nothing newer.
func (s *SQLiteStore) FetchAfter(ctx context.Context, projectID, senderID string, after int64, maxEvents int) (remote.Envelope, error) {
	if err := validateKey(projectID, senderID); err != nil {
		return remote.Envelope{}, err
	}
	if after < 0 {
		after = 0
	}

	conv, ok, err := loadConversation(ctx, s.db, projectID, senderID)
	if err != nil {
		return remote.Envelope{}, err
	}
	if !ok {
		return remote.Envelope{LastIndex: tracker.NoSync}, nil
	}

	limit := -1
	if maxEvents > 0 {
		limit = maxEvents
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_json
FROM conversation_events
WHERE project_id = ? AND sender_id = ? AND idx > ?
ORDER BY idx DESC
LIMIT ?`, projectID, senderID, after, limit)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	events := make([]tracker.Event, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return remote.Envelope{}, fmt.Errorf("scan event: %w", err)
		}
		var ev tracker.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return remote.Envelope{}, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return remote.Envelope{}, fmt.Errorf("iterate events: %w", err)
	}

	env := remote.Envelope{LastIndex: conv.lastIndex, LastTimestamp: conv.lastTimestamp}
	if len(events) == 0 {
		return env, nil
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	snap := conv.state
	snap.SenderID = senderID
	snap.Events = events
	env.Tracker = &snap
	return env, nil
}

// Insert records a full tracker. Events the store already holds, judged by
// timestamp, are skipped so a replayed insert is harmless.
func (s *SQLiteStore) Insert(ctx context.Context, projectID string, snap tracker.Snapshot) (tracker.SyncMetadata, error) {
	return s.write(ctx, projectID, snap, "insert")
}

// Update appends the new events of a tracker. Unknown conversations are
// created, so a store that lost its data recovers on the next write.
func (s *SQLiteStore) Update(ctx context.Context, projectID string, snap tracker.Snapshot) (tracker.SyncMetadata, error) {
	return s.write(ctx, projectID, snap, "update")
}

func (s *SQLiteStore) write(ctx context.Context, projectID string, snap tracker.Snapshot, op string) (tracker.SyncMetadata, error) {
	senderID := strings.TrimSpace(snap.SenderID)
	if err := validateKey(projectID, senderID); err != nil {
		return tracker.SyncMetadata{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("%s begin tx: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	conv, _, err := loadConversation(ctx, tx, projectID, senderID)
	if err != nil {
		return tracker.SyncMetadata{}, err
	}

	events := tracker.CloneEvents(snap.Events)
	tracker.SortEvents(events)
	index := conv.lastIndex
	lastTS := conv.lastTimestamp
	for _, ev := range events {
		if ev.Timestamp <= conv.lastTimestamp {
			continue
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return tracker.SyncMetadata{}, fmt.Errorf("%s encode event: %w", op, err)
		}
		index++
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_events(id, project_id, sender_id, idx, timestamp, event_json)
VALUES(?, ?, ?, ?, ?, ?)`, uuid.NewString(), projectID, senderID, index, ev.Timestamp, string(raw)); err != nil {
			return tracker.SyncMetadata{}, fmt.Errorf("%s insert event: %w", op, err)
		}
		if ev.Timestamp > lastTS {
			lastTS = ev.Timestamp
		}
	}

	state := snap.Clone()
	state.Events = nil
	state.SenderID = senderID
	if state.LatestEventTime < lastTS {
		state.LatestEventTime = lastTS
	}
	stateRaw, err := json.Marshal(state)
	if err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("%s encode state: %w", op, err)
	}

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(project_id, sender_id, tracker_json, last_index, last_timestamp, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_id, sender_id) DO UPDATE SET
	tracker_json = excluded.tracker_json,
	last_index = excluded.last_index,
	last_timestamp = excluded.last_timestamp,
	updated_at_ms = excluded.updated_at_ms`, projectID, senderID, string(stateRaw), index, lastTS, now, now); err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("%s upsert conversation: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("%s commit: %w", op, err)
	}
	return tracker.SyncMetadata{LastIndex: index, LastTimestamp: lastTS}, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return StoreStats{}, fmt.Errorf("count conversations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_events`).Scan(&st.Events); err != nil {
		return StoreStats{}, fmt.Errorf("count events: %w", err)
	}
	return st, nil
}

func validateKey(projectID, senderID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: empty project id", ErrInvalidRequest)
	}
	if strings.TrimSpace(senderID) == "" {
		return fmt.Errorf("%w: empty sender id", ErrInvalidRequest)
	}
	return nil
}
