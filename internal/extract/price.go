package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceNumber   = regexp.MustCompile(`[0-9][0-9.,]*`)
	priceNoise    = regexp.MustCompile(`[0-9.,\s]`)
	isoCurrency   = regexp.MustCompile(`^[A-Z]{3}$`)
	currencyCodes = map[string]string{
		"€":   "EUR",
		"£":   "GBP",
		"$":   "USD",
		"US$": "USD",
	}
)

// ParsePrice reads a price label such as "€1.234,56" or "$12.50". The
// currency is empty when no known symbol or code is present; the price is
// nil when no number can be parsed.
func ParsePrice(text string) (*float64, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ""
	}
	return parseAmount(priceNumber.FindString(text)), detectCurrency(text)
}

func detectCurrency(text string) string {
	symbol := strings.TrimSpace(priceNoise.ReplaceAllString(text, ""))
	if symbol == "" {
		return ""
	}
	if code, ok := currencyCodes[symbol]; ok {
		return code
	}
	if isoCurrency.MatchString(symbol) {
		return symbol
	}
	return ""
}

// parseAmount normalizes separators. With both separators present the last
// one is the decimal mark; a lone comma is a decimal comma; a separator that
// repeats is a thousands grouping.
func parseAmount(raw string) *float64 {
	raw = strings.TrimRight(raw, ".,")
	if raw == "" {
		return nil
	}
	hasComma := strings.Contains(raw, ",")
	hasPeriod := strings.Contains(raw, ".")

	var normalized string
	switch {
	case hasComma && hasPeriod:
		if strings.LastIndex(raw, ",") > strings.LastIndex(raw, ".") {
			normalized = strings.ReplaceAll(raw, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(raw, ",", "")
		}
	case hasComma:
		if strings.Count(raw, ",") > 1 {
			normalized = strings.ReplaceAll(raw, ",", "")
		} else {
			normalized = strings.Replace(raw, ",", ".", 1)
		}
	case hasPeriod && strings.Count(raw, ".") > 1:
		normalized = strings.ReplaceAll(raw, ".", "")
	default:
		normalized = raw
	}

	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return nil
	}
	return &value
}
