// Package extract pulls structured event details out of flyers, free text,
// and fetched pages via the LLM gateway's JSON mode.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/toolcat"
)

// EventDetails mirrors the create_event argument shape. Optional fields are
// pointers so absent values stay absent in the JSON handed back to the
// caller's confirmation form.
type EventDetails struct {
	Name        string   `json:"name"`
	Artist      *string  `json:"artist,omitempty"`
	Description *string  `json:"description,omitempty"`
	EventDate   string   `json:"event_date"`
	Venue       string   `json:"venue"`
	City        string   `json:"city"`
	Price       *string  `json:"price,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	TicketURL   *string  `json:"ticket_url,omitempty"`
}

type completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type schemaValidator interface {
	Validate(name string, args json.RawMessage) error
}

// Extractor turns unstructured inputs into EventDetails.
type Extractor struct {
	gateway completer
	catalog schemaValidator
}

// New builds an extractor.
func New(gateway completer, catalog schemaValidator) *Extractor {
	return &Extractor{gateway: gateway, catalog: catalog}
}

const extractionSystemPrompt = `You extract live-music event details.
Respond with a single JSON object using exactly these keys:
name, artist, description, event_date, venue, city, price, latitude, longitude, ticket_url.
Required: name, venue, city, event_date (ISO 8601). Omit any field you cannot determine.
Never invent values.`

// FromText extracts event details from free text.
func (x *Extractor) FromText(ctx context.Context, text, language string) (*EventDetails, error) {
	prompt := text
	if language != "" {
		prompt = fmt.Sprintf("The text is in %s.\n\n%s", language, text)
	}
	return x.run(ctx, []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractionSystemPrompt),
		llm.TextMessage(llm.RoleUser, prompt),
	})
}

// FromImage extracts event details from a base64-encoded flyer photo.
func (x *Extractor) FromImage(ctx context.Context, imageBase64 string) (*EventDetails, error) {
	dataURL := imageBase64
	if !strings.HasPrefix(dataURL, "data:") {
		dataURL = "data:image/jpeg;base64," + imageBase64
	}
	return x.run(ctx, []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractionSystemPrompt),
		{
			Role: llm.RoleUser,
			Content: []llm.ContentPart{
				{Type: "text", Text: "Extract the event details from this flyer."},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL}},
			},
		},
	})
}

// FromPage extracts event details from fetched page content.
func (x *Extractor) FromPage(ctx context.Context, page, language string) (*EventDetails, error) {
	prompt := fmt.Sprintf("Extract the event details from this web page content:\n\n%s", page)
	if language != "" {
		prompt = fmt.Sprintf("Answer in %s. %s", language, prompt)
	}
	return x.run(ctx, []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractionSystemPrompt),
		llm.TextMessage(llm.RoleUser, prompt),
	})
}

func (x *Extractor) run(ctx context.Context, messages []llm.Message) (*EventDetails, error) {
	raw, err := x.gateway.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	raw = stripFences(raw)
	if x.catalog != nil {
		if err := x.catalog.Validate(toolcat.CreateEvent, json.RawMessage(raw)); err != nil {
			return nil, fmt.Errorf("extracted details failed validation: %w", err)
		}
	}

	var details EventDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("decode extracted details: %w", err)
	}
	return &details, nil
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
