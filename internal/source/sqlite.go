package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scholia/scholia/internal/models"
)

// Store is a SQLite-backed event log. It is the durable form of a room
// set: the replay CLI loads a Store into a Memory source, and the dev
// harness appends to one.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a SQLite event log at path.
func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to event log: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			alias TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			type TEXT NOT NULL,
			state_key TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			content TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS events_room_seq_idx ON events(room_id, seq)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize event log schema: %w", err)
		}
	}
	return nil
}

// PutRoom registers a room and its alias.
func (s *Store) PutRoom(ctx context.Context, info RoomInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, alias) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET alias = excluded.alias
	`, info.ID, info.Alias)
	if err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	return nil
}

// Append writes an event to the log in receipt order.
func (s *Store) Append(ctx context.Context, ev models.Event) error {
	content := ""
	if len(ev.Content) > 0 {
		content = string(ev.Content)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, room_id, type, state_key, sender, ts, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.RoomID, ev.Type, ev.StateKey, ev.Sender, ev.Timestamp.UTC().Format(time.RFC3339Nano), content)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadMemory replays the whole log into a fresh Memory source. Events
// are pushed in stored order, so room state and timelines come out
// exactly as a live source would have produced them.
func (s *Store) LoadMemory(ctx context.Context) (*Memory, error) {
	mem := NewMemory()

	rows, err := s.db.QueryContext(ctx, `SELECT id, alias FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var info RoomInfo
		if err := rows.Scan(&info.ID, &info.Alias); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		mem.AddRoom(info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rooms query error: %w", err)
	}

	eventRows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, type, state_key, sender, ts, content
		FROM events ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer eventRows.Close()

	for eventRows.Next() {
		var (
			ev      models.Event
			tsRaw   string
			content sql.NullString
		)
		if err := eventRows.Scan(&ev.ID, &ev.RoomID, &ev.Type, &ev.StateKey, &ev.Sender, &tsRaw, &content); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, tsRaw); err == nil {
			ev.Timestamp = parsed
		}
		if content.Valid && content.String != "" {
			ev.Content = json.RawMessage(content.String)
		}
		mem.Push(ev)
	}
	if err := eventRows.Err(); err != nil {
		return nil, fmt.Errorf("events query error: %w", err)
	}

	return mem, nil
}
