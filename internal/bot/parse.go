package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("filter ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid filter ID %q", s)
	}
	return id, nil
}

// ParseAddArgs splits /add arguments into the search URL and an optional
// display name.
func ParseAddArgs(args string) (rawURL, name string, err error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", "", fmt.Errorf("usage: /add <url> [name]")
	}
	return parts[0], strings.Join(parts[1:], " "), nil
}
