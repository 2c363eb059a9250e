package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// itemNameSelector locates item blocks in structured-markup receipts
const itemNameSelector = "div.item-name"

var (
	// itemBlock matches "<qty>x <name>" followed by a price on a later line
	itemBlock = regexp.MustCompile(`(\d+)x\s+([\s\S]+?)\n.*?\$([0-9]+\.[0-9]{2})`)

	qtyPrice   = regexp.MustCompile(`(\d+)\s*x\s*\$([0-9]+\.[0-9]{2})`)
	bareAmount = regexp.MustCompile(`\$([0-9]+\.[0-9]{2})`)

	// packSize is the "(4 x 250 ml)" part of a display name
	packSize = regexp.MustCompile(`\(\d+\s*x\s*[^)]+\)`)
	// qtyPriceSuffix is the "1 x $8.99" part of a display name
	qtyPriceSuffix = regexp.MustCompile(`\d+\s*x\s*\$[0-9]+\.[0-9]{2}`)
)

// extractStructured reads item blocks out of receipt markup and the totals out
// of the raw HTML
func (p *Parser) extractStructured(htmlBody string) ([]ItemOutcome, Totals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing receipt markup: %w", err)
	}

	var outcomes []ItemOutcome
	doc.Find(itemNameSelector).Each(func(_ int, s *goquery.Selection) {
		outcomes = append(outcomes, p.structuredItem(strippedText(s)))
	})

	return outcomes, ExtractTotals(htmlBody, StructuredTotals), nil
}

// structuredItem turns a display name such as
// "Red Bull Watermelon Energy Drink(4 x 250 ml)1 x $8.99" into a line item
func (p *Parser) structuredItem(text string) ItemOutcome {
	phrase := packSize.ReplaceAllString(text, "")
	phrase = strings.TrimSpace(qtyPriceSuffix.ReplaceAllString(phrase, ""))
	if phrase == "" {
		return skip("no product name in %q", text)
	}

	qty, price, err := quantityAndPrice(text)
	if err != nil {
		return skip("%q: %v", text, err)
	}

	brand, name := p.catalog.Segment(tokenize(phrase, true))
	if strings.TrimSpace(name) == "" {
		return skip("no item name left after brand %q in %q", brand, text)
	}

	return ok(LineItem{Brand: brand, Name: name, Quantity: qty, UnitPrice: price})
}

// quantityAndPrice reads "<qty> x $<price>", falling back to a lone price with
// a quantity of one
func quantityAndPrice(text string) (int, decimal.Decimal, error) {
	if m := qtyPrice.FindStringSubmatch(text); m != nil {
		qty, err := parseQuantity(m[1])
		if err != nil {
			return 0, decimal.Zero, err
		}
		price, err := decimal.NewFromString(m[2])
		if err != nil {
			return 0, decimal.Zero, fmt.Errorf("parsing price: %w", err)
		}
		return qty, price, nil
	}

	if m := bareAmount.FindStringSubmatch(text); m != nil {
		price, err := decimal.NewFromString(m[1])
		if err != nil {
			return 0, decimal.Zero, fmt.Errorf("parsing price: %w", err)
		}
		return 1, price, nil
	}

	return 0, decimal.Zero, fmt.Errorf("no price found")
}

func parseQuantity(s string) (int, error) {
	qty, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing quantity: %w", err)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("quantity %d is not positive", qty)
	}
	return qty, nil
}

// strippedText concatenates the trimmed text runs below a selection
func strippedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}

// extractGeneric scans normalized receipt text for "<qty>x <name> ... $<price>"
// blocks
func (p *Parser) extractGeneric(text string, vendor Vendor, subject string) []ItemOutcome {
	restaurantOrder := false
	restaurant := ""
	if vendor.Signal == VendorMultiCategoryDelivery && !containsAny(strings.ToLower(subject), p.rules.GroceryStores) {
		restaurantOrder = true
		restaurant = RestaurantFromSubject(subject)
		if restaurant == "" {
			restaurant = UnknownBrand
		}
	}

	var outcomes []ItemOutcome
	for _, m := range itemBlock.FindAllStringSubmatch(text, -1) {
		qty, err := parseQuantity(m[1])
		if err != nil {
			outcomes = append(outcomes, skip("%q: %v", m[0], err))
			continue
		}
		price, err := decimal.NewFromString(m[3])
		if err != nil {
			outcomes = append(outcomes, skip("%q: parsing price: %v", m[0], err))
			continue
		}

		var brand, name string
		if restaurantOrder {
			// Restaurant menu items carry no brand prefix
			brand = restaurant
			name = titleCase(strings.Join(strings.Fields(m[2]), " "))
		} else {
			brand, name = p.catalog.Segment(tokenize(m[2], false))
		}
		if strings.TrimSpace(name) == "" {
			outcomes = append(outcomes, skip("no item name in %q", m[0]))
			continue
		}

		outcomes = append(outcomes, ok(LineItem{Brand: brand, Name: name, Quantity: qty, UnitPrice: price}))
	}

	return outcomes
}
