package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var usdPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders an amount as US currency with thousands separators,
// e.g. 1234.5 -> "$1,234.50".
func FormatUSD(amount float64) string {
	if amount < 0 {
		return "-" + usdPrinter.Sprintf("$%.2f", -amount)
	}
	return usdPrinter.Sprintf("$%.2f", amount)
}
