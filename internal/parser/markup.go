package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"olx_bot/internal/model"
)

// cardLayout describes one generation of the site's listing-card markup.
type cardLayout struct {
	strategy  Strategy
	container string
	links     []string
}

var cardLayouts = []cardLayout{
	{
		strategy:  StrategyCardCurrent,
		container: `[data-cy="l-card"]`,
		links:     []string{`a[href*="/d/"]`, `a[href*=".html"]`},
	},
	{
		strategy:  StrategyCardLegacy,
		container: `.offer-wrapper`,
		links:     legacyLinks,
	},
	{
		// Older pages without the wrapper div.
		strategy:  StrategyCardLegacy,
		container: `table[summary="Ad"]`,
		links:     legacyLinks,
	},
}

var legacyLinks = []string{`a.marginright5`, `a.detailsLink`, `a[href*=".html"]`}

var (
	titleSelectors    = []string{"h6, h4, h3", ".title-cell strong"}
	priceSelectors    = []string{`[data-testid="ad-price"]`, ".price strong", "p.price"}
	locationSelectors = []string{`[data-testid="location-date"]`, ".breadcrumb", ".bottom-cell small"}

	currencyMarkers = []string{"сум", "so'm", "UZS", "у.е.", "$", "€"}
)

const maxPriceFragment = 40

// cards scans the page with the first card layout that matches any
// container.
func (p *Parser) cards(doc *goquery.Document) (Strategy, []model.Listing) {
	for _, layout := range cardLayouts {
		sel := doc.Find(layout.container)
		if sel.Length() == 0 {
			continue
		}
		var out []model.Listing
		sel.Each(func(_ int, card *goquery.Selection) {
			if l, ok := p.parseCard(layout, card); ok {
				out = append(out, l)
			}
		})
		return layout.strategy, out
	}
	return "", nil
}

func (p *Parser) parseCard(layout cardLayout, card *goquery.Selection) (model.Listing, bool) {
	link := firstMatch(card, layout.links)
	if link == nil {
		p.log.Warn("skip card without link", "strategy", layout.strategy)
		return model.Listing{}, false
	}
	href, _ := link.Attr("href")
	href = p.resolve(href)

	id, ok := ExtractID(href)
	if !ok {
		p.log.Warn("skip card without id", "strategy", layout.strategy, "url", href)
		return model.Listing{}, false
	}

	title := ""
	if t := firstMatch(card, titleSelectors); t != nil {
		title = text(t)
	}
	if title == "" {
		title = strings.TrimSpace(link.AttrOr("title", ""))
	}

	return model.Listing{
		ID:       id,
		Title:    title,
		Price:    cardPrice(card),
		URL:      href,
		Location: firstText(card, locationSelectors),
	}, true
}

// cardPrice reads the tagged price field, falling back to the first short
// leaf text fragment carrying a currency marker.
func cardPrice(card *goquery.Selection) string {
	if s := firstText(card, priceSelectors); s != "" {
		return s
	}
	var price string
	card.Find("p, span, strong, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		t := text(s)
		if t == "" || utf8.RuneCountInString(t) > maxPriceFragment {
			return true
		}
		for _, m := range currencyMarkers {
			if strings.Contains(t, m) {
				price = t
				return false
			}
		}
		return true
	})
	if price == "" {
		return NegotiablePrice
	}
	return price
}

// firstMatch returns the first element matched by the earliest selector
// in the list that matches anything.
func firstMatch(s *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if m := s.Find(sel).First(); m.Length() > 0 {
			return m
		}
	}
	return nil
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if t := text(s.Find(sel).First()); t != "" {
			return t
		}
	}
	return ""
}
