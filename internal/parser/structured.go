package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"olx_bot/internal/model"
)

const ldSelector = `script[type="application/ld+json"]`

// structured reads listings from JSON-LD blocks: ItemList elements, bare
// Offer or Product objects, and any of those nested in @graph.
func (p *Parser) structured(doc *goquery.Document) []model.Listing {
	var out []model.Listing
	doc.Find(ldSelector).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			p.log.Warn("decode json-ld", "error", err)
			return
		}
		for _, node := range offerNodes(data) {
			l, ok := p.listingFromOffer(node)
			if !ok {
				continue
			}
			out = append(out, l)
		}
	})
	return out
}

// offerNodes walks decoded JSON-LD and collects offer-like objects in
// document order.
func offerNodes(v any) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			switch {
			case hasType(t, "ItemList"):
				elems, _ := t["itemListElement"].([]any)
				for _, e := range elems {
					m, ok := e.(map[string]any)
					if !ok {
						continue
					}
					if item, ok := m["item"].(map[string]any); ok {
						m = item
					}
					if hasType(m, "Offer") || hasType(m, "Product") {
						out = append(out, m)
					}
				}
			case hasType(t, "Offer"), hasType(t, "Product"):
				out = append(out, t)
			}
			if g, ok := t["@graph"]; ok {
				walk(g)
			}
		}
	}
	walk(v)
	return out
}

func hasType(m map[string]any, want string) bool {
	switch t := m["@type"].(type) {
	case string:
		return t == want
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func (p *Parser) listingFromOffer(m map[string]any) (model.Listing, bool) {
	priceNode := m
	if offers := firstObject(m["offers"]); offers != nil {
		priceNode = offers
	}

	link := stringField(m, "url")
	if link == "" {
		link = stringField(priceNode, "url")
	}
	link = p.resolve(link)

	id, ok := ExtractID(link)
	if !ok {
		p.log.Warn("skip structured listing without id", "url", link)
		return model.Listing{}, false
	}

	price := NegotiablePrice
	if amount, ok := number(priceNode["price"]); ok {
		price = FormatPrice(amount, stringField(priceNode, "priceCurrency"))
	}

	return model.Listing{
		ID:       id,
		Title:    strings.TrimSpace(stringField(m, "name")),
		Price:    price,
		URL:      link,
		Location: area(m["areaServed"]),
	}, true
}

func area(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return strings.TrimSpace(stringField(t, "name"))
	case []any:
		if len(t) > 0 {
			return area(t[0])
		}
	}
	return ""
}

func firstObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	switch t := m[key].(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), " ", ""), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
