package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
)

func planarDistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * kmPerDegree
	dLng := (lng2 - lng1) * kmPerDegree
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

func formatSearchResults(records []store.EventRecord) string {
	if len(records) == 0 {
		return "Found 0 events near you:\n\nNo events found."
	}
	blocks := make([]string, 0, len(records))
	for _, rec := range records {
		blocks = append(blocks, formatEventBlock(rec))
	}
	return fmt.Sprintf("Found %d events near you:\n\n%s", len(records), strings.Join(blocks, "\n\n"))
}

func formatEventBlock(rec store.EventRecord) string {
	var b strings.Builder

	b.WriteString(rec.Name)
	if rec.Artist != nil && *rec.Artist != "" && *rec.Artist != rec.Name {
		b.WriteString(" - ")
		b.WriteString(*rec.Artist)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s, %s\n", rec.Venue, rec.City)
	fmt.Fprintf(&b, "%s\n", rec.EventDate.Format("Mon, 2 Jan 2006 at 15:04"))

	if rec.Price != nil && *rec.Price != "" {
		fmt.Fprintf(&b, "Price: %s", *rec.Price)
	} else {
		b.WriteString("Price: Free")
	}

	if rec.TicketURL != nil && *rec.TicketURL != "" {
		fmt.Fprintf(&b, "\nTickets: %s", *rec.TicketURL)
	}
	if rec.Latitude != nil && rec.Longitude != nil {
		fmt.Fprintf(&b, "\nDirections: https://www.google.com/maps/dir/?api=1&destination=%f,%f", *rec.Latitude, *rec.Longitude)
	}
	return b.String()
}
