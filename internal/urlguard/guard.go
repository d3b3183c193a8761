// Package urlguard validates user-supplied URLs before any network fetch
// and provides a fetcher whose dialer re-checks resolved addresses.
package urlguard

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MaxURLLength is the default cap on accepted URL length.
const MaxURLLength = 2048

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
}

// ValidationError describes why a URL was rejected. Handlers surface it as
// a 400 with the reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate rejects URLs that could reach internal infrastructure: non-http
// schemes, loopback, link-local (cloud metadata), private ranges, and
// over-long URLs. It inspects the URL only; the fetcher guards resolution.
func Validate(raw string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = MaxURLLength
	}
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Reason: "URL is required"}
	}
	if len(raw) > maxLength {
		return &ValidationError{Reason: fmt.Sprintf("URL exceeds maximum length of %d characters", maxLength)}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Reason: "URL is not valid"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Reason: "only http and https URLs are allowed"}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return &ValidationError{Reason: "URL has no hostname"}
	}
	if blockedHostnames[host] || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return &ValidationError{Reason: "hostname is not allowed"}
	}
	if ip := net.ParseIP(host); ip != nil && isDisallowedIP(ip) {
		return &ValidationError{Reason: "IP address is not allowed"}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
