// Package validator checks attacker-controlled strings the ingest core
// parses directly off the wire — app/stream names and tcUrl — before they
// reach a log line, a metrics label, or a registry key.
package validator

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const maxNameLength = 256

// ValidateName checks an app or stream name pulled from a connect/publish
// command: bounded length, no control characters, not empty.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s exceeds maximum length of %d", kind, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s contains a control character", kind)
		}
	}
	return nil
}

// ValidateTcURL checks the tcUrl field of a connect command: it must parse
// as a URL with an rtmp or rtmps scheme and a non-empty host. Unlike an
// upstream dial target, the host is not restricted — the core never
// connects out to it, it only records it — so this stops at format
// validation.
func ValidateTcURL(tcURL string) error {
	if tcURL == "" {
		return fmt.Errorf("tcUrl cannot be empty")
	}
	parsed, err := url.Parse(tcURL)
	if err != nil {
		return fmt.Errorf("invalid tcUrl: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "rtmp" && scheme != "rtmps" {
		return fmt.Errorf("unsupported tcUrl scheme %q (must be rtmp or rtmps)", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("tcUrl must include a host")
	}
	return nil
}
