package parser

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Limits for detail-page fragments.
const (
	MaxDetails       = 8
	maxDescription   = 200
	maxAttributeLine = 100
	maxParameterLine = 80
)

// ParseDetails collects short descriptive fragments from a listing page:
// the description snippet from Product JSON-LD, attribute list items and
// "name: value" parameter lines. Fragments are deduplicated by exact text
// and capped at MaxDetails.
func (p *Parser) ParseDetails(page []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		p.log.Warn("parse detail html", "error", err)
		return nil
	}

	var details []string
	doc.Find(ldSelector).Each(func(_ int, s *goquery.Selection) {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		if !hasType(data, "Product") {
			return
		}
		if desc := strings.TrimSpace(stringField(data, "description")); desc != "" {
			details = append(details, truncate(desc, maxDescription))
		}
	})

	doc.Find("li[data-testid]").Each(func(_ int, s *goquery.Selection) {
		if t := text(s); t != "" && utf8.RuneCountInString(t) < maxAttributeLine {
			details = append(details, t)
		}
	})

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := text(s); strings.Contains(t, ":") && utf8.RuneCountInString(t) < maxParameterLine {
			details = append(details, t)
		}
	})

	return dedupe(details, MaxDetails)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func dedupe(items []string, limit int) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, min(len(items), limit))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}
