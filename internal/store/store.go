package store

import (
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
)

// Event is one archived envelope.
type Event struct {
	ID         string                 `json:"id"`
	EventID    string                 `json:"eventId,omitempty"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	ReceivedAt time.Time              `json:"receivedAt"`
}

// Store wraps the SQLite database holding the event archive.
type Store struct {
	db *sql.DB
}

// Open initializes the archive using the supplied DSN/file path and driver.
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" {
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datastore directory: %w", err)
	}
	conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite datastore: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			event_id TEXT,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);`,
		`CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendEvent archives an envelope. ID and ReceivedAt are filled when empty.
func (s *Store) AppendEvent(evt *Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	if evt.Type == "" {
		evt.Type = "OTHER"
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO events (id, seq, event_id, type, payload, received_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events), ?, ?, ?, ?)`,
		evt.ID, evt.EventID, evt.Type, string(payload), evt.ReceivedAt,
	)
	return err
}

// ListEvents returns archived events from newest to oldest, optionally
// filtered by type.
func (s *Store) ListEvents(limit int, eventType string) ([]Event, error) {
	query := `SELECT id, event_id, type, payload, received_at FROM events`
	var args []interface{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, strings.ToUpper(eventType))
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e       Event
			eventID sql.NullString
			payload string
		)
		if err := rows.Scan(&e.ID, &eventID, &e.Type, &payload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.EventID = eventID.String
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %s has corrupt payload: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of archived events.
func (s *Store) CountEvents() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
