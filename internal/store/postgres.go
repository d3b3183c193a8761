package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the datastore with a shared Postgres instance, for
// deployments where several replicas serve the API.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to Postgres and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			artist TEXT,
			description TEXT,
			event_date TIMESTAMPTZ NOT NULL,
			venue TEXT NOT NULL,
			city TEXT NOT NULL,
			price TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			ticket_url TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_city ON events(city)`,
		`CREATE TABLE IF NOT EXISTS conversation_logs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			conversation_type TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			device_type TEXT,
			user_agent TEXT,
			language TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_logs_session ON conversation_logs(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// InsertEvent writes one event row, listing optional columns only when set.
func (s *PostgresStore) InsertEvent(ctx context.Context, rec *EventRecord) error {
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

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO events (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

// SearchEvents returns events whose date falls within [start, end].
func (s *PostgresStore) SearchEvents(ctx context.Context, start, end time.Time) ([]EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, artist, description, event_date, venue, city, price, latitude, longitude, ticket_url, created_at
		 FROM events WHERE event_date >= $1 AND event_date <= $2 ORDER BY event_date ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Artist, &rec.Description, &rec.EventDate, &rec.Venue, &rec.City,
			&rec.Price, &rec.Latitude, &rec.Longitude, &rec.TicketURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

// LogConversation appends one conversation-log row.
func (s *PostgresStore) LogConversation(ctx context.Context, entry *ConversationLog) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_logs (id, session_id, conversation_type, role, content, device_type, user_agent, language, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.SessionID, entry.ConversationType, entry.Role, entry.Content,
		entry.DeviceType, entry.UserAgent, entry.Language, entry.CreatedAt,
	)
	return err
}
