// Package filter validates the search URLs owners subscribe to.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validation failures.
var (
	ErrInvalidURL = errors.New("invalid filter url")
	ErrForeignURL = errors.New("filter url is not on the source site")
)

// Validate checks that raw is an absolute http(s) URL on the source site
// identified by origin (for example "https://www.olx.uz") and returns it
// trimmed. The bare host without "www." is accepted as well.
func Validate(raw, origin string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, s)
	}

	if !IsSourceURL(s, origin) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, u.Host)
	}
	return s, nil
}

// IsSourceURL reports whether s starts with origin or with origin minus
// the "www." host prefix.
func IsSourceURL(s, origin string) bool {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return false
	}
	for _, o := range origins(origin) {
		if s == o || strings.HasPrefix(s, o+"/") || strings.HasPrefix(s, o+"?") {
			return true
		}
	}
	return false
}

func origins(origin string) []string {
	out := []string{origin}
	if scheme, host, ok := strings.Cut(origin, "://"); ok {
		if bare, found := strings.CutPrefix(host, "www."); found {
			out = append(out, scheme+"://"+bare)
		}
	}
	return out
}
