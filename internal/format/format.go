// Package format renders numbers and dates the way the French
// dashboard displays them: grouped digits, a trailing euro sign, short
// French month names.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var frenchPrinter = message.NewPrinter(language.French)

// EUR formats an amount as a whole-euro figure with French digit
// grouping, e.g. 1234567.89 renders as "1 234 568 €".
func EUR(amount float64) string {
	return frenchPrinter.Sprintf("%v €", number.Decimal(amount, number.MaxFractionDigits(0)))
}

// Number formats a count with French digit grouping.
func Number(n int) string {
	return frenchPrinter.Sprintf("%v", number.Decimal(n))
}

var frenchShortMonths = [...]string{
	"janv.", "févr.", "mars", "avr.", "mai", "juin",
	"juil.", "août", "sept.", "oct.", "nov.", "déc.",
}

// Date renders an ISO-style date string as a short French date, e.g.
// "2021-07-14" becomes "14 juil. 2021". Unparseable input, including
// the "N/A" sentinel, is returned unchanged.
func Date(raw string) string {
	layouts := []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return fmt.Sprintf("%d %s %d", t.Day(), frenchShortMonths[t.Month()-1], t.Year())
		}
	}
	return raw
}
