package urlguard

import (
	"strings"
	"testing"
)

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
	}{
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/"},
		{"localhost", "http://localhost:8080/admin"},
		{"localhost subdomain", "http://api.localhost/x"},
		{"private 10", "http://10.0.0.5/events"},
		{"private 192.168", "http://192.168.1.20/"},
		{"loopback", "http://127.0.0.1/"},
		{"ftp scheme", "ftp://example.com/file"},
		{"file scheme", "file:///etc/passwd"},
		{"no hostname", "http:///path"},
		{"empty", ""},
		{"gcp metadata hostname", "http://metadata.google.internal/computeMetadata/v1/"},
		{"over-long", "https://example.com/?q=" + strings.Repeat("a", 2048)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := Validate(tc.url, MaxURLLength); err == nil {
				t.Fatalf("expected %q to be rejected", tc.url)
			}
		})
	}
}

func TestValidateAllowsPublicHTTPS(t *testing.T) {
	t.Parallel()

	for _, u := range []string{
		"https://www.venue-tickets.example.com/events/123",
		"http://93.184.216.34/",
	} {
		if err := Validate(u, MaxURLLength); err != nil {
			t.Fatalf("expected %q to pass, got %v", u, err)
		}
	}
}

func TestValidationErrorReason(t *testing.T) {
	t.Parallel()

	err := Validate("ftp://example.com", MaxURLLength)
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Reason == "" {
		t.Fatal("expected a non-empty rejection reason")
	}
}
