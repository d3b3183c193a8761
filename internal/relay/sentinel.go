package relay

import "strings"

// ExtractedEventMarker delimits an extracted-event payload the assistant
// embeds in its reply when the promoter conversation has gathered enough
// detail to prefill the confirmation form.
const ExtractedEventMarker = "__EVENT_EXTRACTED__"

// SentinelDetector watches the accumulated content of one response for a
// complete marker-delimited payload. The legacy client scanned the chat
// transcript for the markers itself; here detection happens server-side and
// the payload goes out as a typed SSE frame instead.
type SentinelDetector struct {
	buf strings.Builder
}

// Feed appends a content fragment and reports the payload between the
// markers once both have arrived.
func (d *SentinelDetector) Feed(text string) (payload string, found bool) {
	d.buf.WriteString(text)
	s := d.buf.String()

	start := strings.Index(s, ExtractedEventMarker)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(ExtractedEventMarker):]
	end := strings.Index(rest, ExtractedEventMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
