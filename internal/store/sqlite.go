package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-node datastore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a SQLite datastore at the given file path.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datastore directory: %w", err)
	}
	conn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dsn)
	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite datastore: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			artist TEXT,
			description TEXT,
			event_date TIMESTAMP NOT NULL,
			venue TEXT NOT NULL,
			city TEXT NOT NULL,
			price TEXT,
			latitude REAL,
			longitude REAL,
			ticket_url TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date);`,
		`CREATE INDEX IF NOT EXISTS idx_events_city ON events(city);`,
		`CREATE TABLE IF NOT EXISTS conversation_logs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			conversation_type TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			device_type TEXT,
			user_agent TEXT,
			language TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_logs_session ON conversation_logs(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the datastore.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertEvent writes one event row. Optional columns are listed only when
// set, so an absent field lands as the schema default rather than an
// explicit null written by the application.
func (s *SQLiteStore) InsertEvent(ctx context.Context, rec *EventRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	cols := []string{"id", "name", "event_date", "venue", "city", "created_at"}
	args := []interface{}{rec.ID, rec.Name, rec.EventDate.UTC(), rec.Venue, rec.City, rec.CreatedAt}
	if rec.Artist != nil {
		cols = append(cols, "artist")
		args = append(args, *rec.Artist)
	}
	if rec.Description != nil {
		cols = append(cols, "description")
		args = append(args, *rec.Description)
	}
	if rec.Price != nil {
		cols = append(cols, "price")
		args = append(args, *rec.Price)
	}
	if rec.Latitude != nil {
		cols = append(cols, "latitude")
		args = append(args, *rec.Latitude)
	}
	if rec.Longitude != nil {
		cols = append(cols, "longitude")
		args = append(args, *rec.Longitude)
	}
	if rec.TicketURL != nil {
		cols = append(cols, "ticket_url")
		args = append(args, *rec.TicketURL)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO events (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// SearchEvents returns events whose date falls within [start, end], oldest
// first. Proximity filtering happens in the caller; SQLite has no native
// geospatial distance operator here.
func (s *SQLiteStore) SearchEvents(ctx context.Context, start, end time.Time) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, artist, description, event_date, venue, city, price, latitude, longitude, ticket_url, created_at
		 FROM events WHERE event_date >= ? AND event_date <= ? ORDER BY event_date ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			rec    EventRecord
			artist sql.NullString
			desc   sql.NullString
			price  sql.NullString
			lat    sql.NullFloat64
			lng    sql.NullFloat64
			ticket sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &artist, &desc, &rec.EventDate, &rec.Venue, &rec.City, &price, &lat, &lng, &ticket, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if artist.Valid {
			rec.Artist = &artist.String
		}
		if desc.Valid {
			rec.Description = &desc.String
		}
		if price.Valid {
			rec.Price = &price.String
		}
		if lat.Valid {
			rec.Latitude = &lat.Float64
		}
		if lng.Valid {
			rec.Longitude = &lng.Float64
		}
		if ticket.Valid {
			rec.TicketURL = &ticket.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LogConversation appends one conversation-log row.
func (s *SQLiteStore) LogConversation(ctx context.Context, entry *ConversationLog) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_logs (id, session_id, conversation_type, role, content, device_type, user_agent, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.ConversationType, entry.Role, entry.Content,
		entry.DeviceType, entry.UserAgent, entry.Language, entry.CreatedAt,
	)
	return err
}
