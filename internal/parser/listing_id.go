package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NegotiablePrice is shown when a listing carries no usable price.
const NegotiablePrice = "Kelishiladi"

// DefaultCurrency is assumed when structured data omits the currency.
const DefaultCurrency = "UZS"

var reListingID = regexp.MustCompile(`-ID([A-Za-z0-9]+)\.html`)

// ExtractID returns the listing identifier embedded in a listing URL as
// "-ID<token>.html".
func ExtractID(u string) (string, bool) {
	m := reListingID.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatPrice floors amount and formats it with space-separated thousands
// followed by the currency code, e.g. "1 500 000 UZS".
func FormatPrice(amount float64, currency string) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return NegotiablePrice
	}
	currency = strings.TrimSpace(currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	// Formatted from the float so amounts beyond the int64 range keep
	// their digits.
	return groupThousands(strconv.FormatFloat(math.Floor(amount), 'f', 0, 64)) + " " + currency
}

func groupThousands(digits string) string {
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return b.String()
}
