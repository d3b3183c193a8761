// Package tools executes completed tool calls against the datastore.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/logutil"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/metrics"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/toolcat"
)

const (
	// kmPerDegree is the flat degree-to-km approximation used for the
	// proximity filter. Valid for the regional latitudes this service
	// targets; it degrades toward the poles and is documented as an
	// approximation, not replaced by a great-circle formula.
	kmPerDegree = 111.32

	defaultRadiusKM = 10
)

const (
	searchFailedReply = "I'm sorry, I couldn't search for events right now. Please try again in a moment."
	insertFailedReply = "I'm sorry, I couldn't publish your event right now. Please try again in a moment."
)

type argumentValidator interface {
	Validate(name string, args json.RawMessage) error
}

type eventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// Executor dispatches completed tool calls to the datastore and renders
// the content string spliced back into the chat stream.
type Executor struct {
	store    store.EventStore
	catalog  argumentValidator
	bus      eventPublisher
	radiusKM float64
}

// Options configure the executor.
type Options struct {
	Store    store.EventStore
	Catalog  argumentValidator
	Bus      eventPublisher
	RadiusKM float64
}

// New builds an executor.
func New(opts Options) *Executor {
	if opts.RadiusKM <= 0 {
		opts.RadiusKM = defaultRadiusKM
	}
	return &Executor{
		store:    opts.Store,
		catalog:  opts.Catalog,
		bus:      opts.Bus,
		radiusKM: opts.RadiusKM,
	}
}

// Execute runs the named tool. Datastore failures come back as apologetic
// content strings with a nil error so the surrounding stream keeps going;
// only unrecognized tools are reported as errors.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	start := time.Now()
	var (
		out string
		err error
	)
	switch name {
	case toolcat.SearchEvents:
		out, err = e.searchEvents(ctx, args)
	case toolcat.CreateEvent:
		out, err = e.createEvent(ctx, args)
	default:
		err = fmt.Errorf("unsupported tool: %s", name)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveToolExecution(name, status, time.Since(start))
	return out, err
}

type searchArgs struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	RadiusKM  *float64 `json:"radius_km"`
}

func (e *Executor) searchEvents(ctx context.Context, args json.RawMessage) (string, error) {
	if e.catalog != nil {
		if err := e.catalog.Validate(toolcat.SearchEvents, args); err != nil {
			return "", err
		}
	}
	var req searchArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("decode search arguments: %w", err)
	}

	start, err := parseEventDate(req.StartDate)
	if err != nil {
		return "", fmt.Errorf("invalid startDate: %w", err)
	}
	end, err := parseEventDate(req.EndDate)
	if err != nil {
		return "", fmt.Errorf("invalid endDate: %w", err)
	}
	// A date-only end bound covers the whole day.
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
		end = end.Add(24*time.Hour - time.Second)
	}

	radius := e.radiusKM
	if req.RadiusKM != nil && *req.RadiusKM > 0 {
		radius = *req.RadiusKM
	}

	records, err := e.store.SearchEvents(ctx, start, end)
	if err != nil {
		logutil.Error("tool_search_failed", err, map[string]interface{}{"tool": toolcat.SearchEvents})
		return searchFailedReply, nil
	}

	nearby := filterByDistance(records, req.Latitude, req.Longitude, radius)
	return formatSearchResults(nearby), nil
}

// filterByDistance keeps records within radiusKM of the given point, using
// the planar approximation. Records without coordinates cannot be ranked
// and are skipped.
func filterByDistance(records []store.EventRecord, lat, lng, radiusKM float64) []store.EventRecord {
	var nearby []store.EventRecord
	for _, rec := range records {
		if rec.Latitude == nil || rec.Longitude == nil {
			continue
		}
		if planarDistanceKM(lat, lng, *rec.Latitude, *rec.Longitude) <= radiusKM {
			nearby = append(nearby, rec)
		}
	}
	return nearby
}

type createArgs struct {
	Name        string   `json:"name"`
	Artist      string   `json:"artist"`
	Description string   `json:"description"`
	EventDate   string   `json:"event_date"`
	Venue       string   `json:"venue"`
	City        string   `json:"city"`
	Price       string   `json:"price"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	TicketURL   string   `json:"ticket_url"`
}

func (e *Executor) createEvent(ctx context.Context, args json.RawMessage) (string, error) {
	if e.catalog != nil {
		if err := e.catalog.Validate(toolcat.CreateEvent, args); err != nil {
			return "", err
		}
	}
	var req createArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("decode create arguments: %w", err)
	}

	when, err := parseEventDate(req.EventDate)
	if err != nil {
		return "", fmt.Errorf("invalid event_date: %w", err)
	}

	rec := &store.EventRecord{
		Name:      req.Name,
		EventDate: when,
		Venue:     req.Venue,
		City:      req.City,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	// Empty optional fields are left unset rather than stored as explicit
	// nulls or empty strings.
	rec.Artist = optional(req.Artist)
	rec.Description = optional(req.Description)
	rec.Price = optional(req.Price)
	rec.TicketURL = optional(req.TicketURL)

	if err := e.store.InsertEvent(ctx, rec); err != nil {
		logutil.Error("tool_insert_failed", err, map[string]interface{}{"tool": toolcat.CreateEvent, "event": req.Name})
		return insertFailedReply, nil
	}

	if e.bus != nil {
		if err := e.bus.Publish(ctx, "event.created", rec); err != nil {
			logutil.Warn("event_publish_failed", map[string]interface{}{"error": err.Error(), "id": rec.ID})
		}
	}
	return fmt.Sprintf("Your event %q in %s has been published. Fans searching near the venue will see it right away.", rec.Name, rec.City), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var eventDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseEventDate(s string) (time.Time, error) {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
