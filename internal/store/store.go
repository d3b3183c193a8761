// Package store persists event records and conversation logs.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventRecord is a published live-music event. Optional fields are pointers;
// a nil pointer is omitted from the insert rather than written as an
// explicit null.
type EventRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Artist      *string   `json:"artist,omitempty"`
	Description *string   `json:"description,omitempty"`
	EventDate   time.Time `json:"event_date"`
	Venue       string    `json:"venue"`
	City        string    `json:"city"`
	Price       *string   `json:"price,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	TicketURL   *string   `json:"ticket_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationLog is one moderation-approved chat message recorded for audit.
type ConversationLog struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	ConversationType string    `json:"conversation_type"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	DeviceType       string    `json:"device_type,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	Language         string    `json:"language,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EventStore is the datastore contract consumed by the tool executor and
// the background worker.
type EventStore interface {
	InsertEvent(ctx context.Context, rec *EventRecord) error
	SearchEvents(ctx context.Context, start, end time.Time) ([]EventRecord, error)
	LogConversation(ctx context.Context, entry *ConversationLog) error
	Close() error
}

// Open initializes the datastore for the supplied DSN and driver.
func Open(dsn, driver string) (EventStore, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(context.Background(), dsn)
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}
}

// NewID returns a lexicographically sortable record ID.
func NewID() string {
	return ulid.Make().String()
}
