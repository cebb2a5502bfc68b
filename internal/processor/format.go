package processor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Placeholder shown for values a source has not provided yet.
const Placeholder = "--"

// FormatNumber renders v with places decimals and thousands separators,
// e.g. 50000 -> "50,000.00".
func FormatNumber(v float64, places int32) string {
	text := decimal.NewFromFloat(v).StringFixed(places)

	sign := ""
	if strings.HasPrefix(text, "-") {
		sign = "-"
		text = text[1:]
	}

	intPart, frac := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		intPart, frac = text[:i], text[i:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}

// FormatSigned is FormatNumber with a leading "+" for non-negative values.
func FormatSigned(v float64, places int32) string {
	if v >= 0 {
		return "+" + FormatNumber(v, places)
	}
	return FormatNumber(v, places)
}

// FormatChange renders a 24h change as "+1,234.50 (+2.10%)".
func FormatChange(change, percent float64) string {
	return FormatSigned(change, 2) + " (" + FormatPercent(percent) + ")"
}

// FormatPercent renders "+2.10%". The sign follows percent.
func FormatPercent(percent float64) string {
	text := decimal.NewFromFloat(percent).StringFixed(2)
	if percent >= 0 {
		text = "+" + text
	}
	return text + "%"
}

func formatOptional(v *float64, places int32) string {
	if v == nil {
		return Placeholder
	}
	return FormatNumber(*v, places)
}
