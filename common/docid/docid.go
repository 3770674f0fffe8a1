// Package docid extracts Google Docs document identifiers from user input.
package docid

import (
	"errors"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`)
	idPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ErrInvalid is returned when input is neither a document URL nor a bare id.
var ErrInvalid = errors.New("invalid document id")

// FromURL returns the id in a URL of the form .../document/d/<ID>/...
// The second result is false when the URL has no /document/d/ segment.
func FromURL(rawURL string) (string, bool) {
	m := urlPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Normalize accepts either a bare document id or a document URL.
func Normalize(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrInvalid
	}
	if id, ok := FromURL(input); ok {
		return id, nil
	}
	if !idPattern.MatchString(input) {
		return "", ErrInvalid
	}
	return input, nil
}
