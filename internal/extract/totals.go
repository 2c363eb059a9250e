package extract

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// TotalsPatterns lists, per field, the patterns tried in priority order. Each
// pattern must capture the amount in its first group.
type TotalsPatterns struct {
	Total      []*regexp.Regexp
	Subtotal   []*regexp.Regexp
	Tax        []*regexp.Regexp
	ServiceFee []*regexp.Regexp
}

// StructuredTotals is matched against the raw HTML of structured-markup receipts
var StructuredTotals = TotalsPatterns{
	Total: []*regexp.Regexp{
		regexp.MustCompile(`Total charged \(CAD\)</td>\s*<td[^>]*>\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Total CAD[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Total[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Order Totals[:\s]*([0-9]+\.[0-9]{2})`),
	},
	Subtotal: []*regexp.Regexp{
		regexp.MustCompile(`Items Subtotal[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Subtotal[:\s]*\$([0-9]+\.[0-9]{2})`),
	},
	Tax: []*regexp.Regexp{
		regexp.MustCompile(`Item GST[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Item PST[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Tax[:\s]*\$([0-9]+\.[0-9]{2})`),
	},
	ServiceFee: []*regexp.Regexp{
		regexp.MustCompile(`Service Fee[:\s]*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`Service fee[:\s]*\$([0-9]+\.[0-9]{2})`),
	},
}

// GenericTotals is matched against normalized, lower-case receipt text
var GenericTotals = TotalsPatterns{
	Total: []*regexp.Regexp{
		regexp.MustCompile(`total charged\s*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`order total\s*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`(?m)^total:?\s*\$([0-9]+\.[0-9]{2})`),
	},
	Subtotal: []*regexp.Regexp{
		regexp.MustCompile(`subtotal\s*\$([0-9]+\.[0-9]{2})`),
	},
	Tax: []*regexp.Regexp{
		regexp.MustCompile(`taxes\s*\$([0-9]+\.[0-9]{2})`),
		regexp.MustCompile(`(?m)^(?:estimated )?tax:?\s*\$([0-9]+\.[0-9]{2})`),
	},
	ServiceFee: []*regexp.Regexp{
		regexp.MustCompile(`service fee\s*\$([0-9]+\.[0-9]{2})`),
	},
}

// ExtractTotals finds the summary amounts in text. Total, subtotal and service
// fee take the first pattern that matches; every matching tax pattern is added
// up because receipts list several taxes side by side. Fields with no match are
// left out.
func ExtractTotals(text string, patterns TotalsPatterns) Totals {
	totals := Totals{}

	firstMatch := func(field TotalField, chain []*regexp.Regexp) {
		for _, re := range chain {
			if amount, ok := matchAmount(re, text); ok {
				totals[field] = amount
				return
			}
		}
	}

	firstMatch(FieldTotal, patterns.Total)
	firstMatch(FieldSubtotal, patterns.Subtotal)

	var taxMatched bool
	tax := decimal.Zero
	for _, re := range patterns.Tax {
		if amount, ok := matchAmount(re, text); ok {
			tax = tax.Add(amount)
			taxMatched = true
		}
	}
	if taxMatched {
		totals[FieldTax] = tax
	}

	firstMatch(FieldServiceFee, patterns.ServiceFee)

	return totals
}

func matchAmount(re *regexp.Regexp, text string) (decimal.Decimal, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}
