package extract

import (
	"context"
	"testing"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/toolcat"
)

type fakeGateway struct {
	response string
	err      error
	messages []llm.Message
}

func (f *fakeGateway) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.messages = messages
	return f.response, f.err
}

func newExtractor(t *testing.T, gw *fakeGateway) *Extractor {
	t.Helper()
	cat, err := toolcat.Load("")
	if err != nil {
		t.Fatalf("toolcat.Load: %v", err)
	}
	return New(gw, cat)
}

func TestFromTextParsesDetails(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{response: `{"name":"Test Gig","venue":"The Venue","city":"Barcelona","event_date":"2025-06-01T20:00:00","price":"10 EUR"}`}
	x := newExtractor(t, gw)

	details, err := x.FromText(context.Background(), "Test Gig at The Venue, Barcelona, June 1st 2025, 10 euros", "")
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	if details.Name != "Test Gig" || details.City != "Barcelona" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Artist != nil || details.TicketURL != nil {
		t.Fatalf("omitted fields must stay nil: %+v", details)
	}
	if details.Price == nil || *details.Price != "10 EUR" {
		t.Fatalf("price mismatch: %+v", details.Price)
	}
}

func TestFromTextStripsCodeFences(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{response: "```json\n{\"name\":\"Gig\",\"venue\":\"V\",\"city\":\"BCN\",\"event_date\":\"2025-06-01\"}\n```"}
	x := newExtractor(t, gw)

	details, err := x.FromText(context.Background(), "whatever", "")
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	if details.Name != "Gig" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestMissingRequiredFieldsRejected(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{response: `{"name":"Gig"}`}
	x := newExtractor(t, gw)

	if _, err := x.FromText(context.Background(), "incomplete", ""); err == nil {
		t.Fatal("expected validation failure when venue/city/event_date are missing")
	}
}

func TestFromImageBuildsDataURL(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{response: `{"name":"Gig","venue":"V","city":"BCN","event_date":"2025-06-01"}`}
	x := newExtractor(t, gw)

	if _, err := x.FromImage(context.Background(), "aGVsbG8="); err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if len(gw.messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(gw.messages))
	}
	parts, ok := gw.messages[1].Content.([]llm.ContentPart)
	if !ok || len(parts) != 2 || parts[1].ImageURL == nil {
		t.Fatalf("expected multimodal user message: %+v", gw.messages[1])
	}
	if parts[1].ImageURL.URL != "data:image/jpeg;base64,aGVsbG8=" {
		t.Fatalf("unexpected data URL: %s", parts[1].ImageURL.URL)
	}
}
