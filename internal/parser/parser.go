// Package parser extracts classified listings from search-result pages.
//
// A page is read by an ordered list of strategies. Embedded JSON-LD data is
// tried first; card markup (current site layout, then the legacy one) is
// scanned afterwards to add listings the structured data missed and to fill
// empty fields of the ones it found.
package parser

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"olx_bot/internal/model"
)

// Strategy names an extraction pass.
type Strategy string

// Extraction strategies, in the order they are tried.
const (
	StrategyStructured  Strategy = "structured"
	StrategyCardCurrent Strategy = "card-current"
	StrategyCardLegacy  Strategy = "card-legacy"
)

// UntitledListing is used when no title can be found for a listing.
const UntitledListing = "Untitled listing"

// Result is the outcome of parsing one page.
type Result struct {
	Listings []model.Listing
	// Counts holds how many listings each strategy contributed.
	Counts map[Strategy]int
}

// Parser turns raw HTML into listings. It is safe for concurrent use.
type Parser struct {
	base *url.URL
	log  *slog.Logger
}

// New creates a Parser that resolves relative links against baseURL.
func New(baseURL string, log *slog.Logger) *Parser {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		log.Warn("invalid base url, relative links will be dropped", "url", baseURL, "error", err)
		base = nil
	}
	return &Parser{base: base, log: log}
}

// Parse returns the listings found on page in page order. A page without
// listings yields an empty slice.
func (p *Parser) Parse(page []byte) []model.Listing {
	return p.Extract(page).Listings
}

// Extract parses page and reports which strategy produced each listing.
func (p *Parser) Extract(page []byte) Result {
	res := Result{Counts: make(map[Strategy]int)}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		p.log.Warn("parse html", "error", err)
		return res
	}

	index := make(map[string]int)
	add := func(s Strategy, l model.Listing) {
		if i, ok := index[l.ID]; ok {
			fillEmpty(&res.Listings[i], l)
			return
		}
		index[l.ID] = len(res.Listings)
		res.Listings = append(res.Listings, l)
		res.Counts[s]++
	}

	for _, l := range p.structured(doc) {
		add(StrategyStructured, l)
	}

	strategy, cards := p.cards(doc)
	for _, l := range cards {
		add(strategy, l)
	}

	for i := range res.Listings {
		if res.Listings[i].Title == "" {
			res.Listings[i].Title = UntitledListing
		}
	}
	return res
}

// fillEmpty copies title, price and location from src where dst has
// none. A negotiable price counts as missing.
func fillEmpty(dst *model.Listing, src model.Listing) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if (dst.Price == "" || dst.Price == NegotiablePrice) && src.Price != "" {
		dst.Price = src.Price
	}
	if dst.Location == "" {
		dst.Location = src.Location
	}
}

// resolve makes href absolute. It returns "" when href cannot be resolved.
func (p *Parser) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	if p.base == nil {
		return ""
	}
	return p.base.ResolveReference(u).String()
}

// text returns the selection text with runs of whitespace collapsed.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
