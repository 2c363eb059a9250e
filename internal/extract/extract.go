// Package extract turns receipt emails into structured orders.
//
// Everything in this package is deterministic and free of I/O once a Parser
// has been built: the same RawEmail always yields the same ParsedOrder.
package extract

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RawEmail is the per-message input handed to the parser
type RawEmail struct {
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`
}

// LineItem is a single purchased product
type LineItem struct {
	Brand     string          `json:"brand"`
	Name      string          `json:"name"`
	Quantity  int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
}

// Category is the kind of purchase an order represents
type Category string

const (
	CategoryGrocery Category = "Grocery"
	CategoryDining  Category = "Dining"
	CategoryUnknown Category = "Unknown"
)

// Validate checks if the category is one of the known values
func (c Category) Validate() error {
	switch c {
	case CategoryGrocery, CategoryDining, CategoryUnknown:
		return nil
	default:
		return fmt.Errorf("invalid category: %q", c)
	}
}

// TotalField names one monetary summary field of an order
type TotalField string

const (
	FieldSubtotal   TotalField = "subtotal"
	FieldTax        TotalField = "tax"
	FieldServiceFee TotalField = "service_fee"
	FieldTotal      TotalField = "total"
)

// Totals holds the summary amounts found on a receipt. A missing key means the
// amount was not found, which is different from an amount of zero.
type Totals map[TotalField]decimal.Decimal

// Get returns the amount for a field and whether it was present
func (t Totals) Get(field TotalField) (decimal.Decimal, bool) {
	v, ok := t[field]
	return v, ok
}

// ParsedOrder is the result of parsing one email
type ParsedOrder struct {
	Items     []LineItem `json:"items"`
	Totals    Totals     `json:"totals"`
	Category  Category   `json:"category"`
	StoreName string     `json:"store_name"`
}

// Actionable reports whether the order carries any items. Callers treat orders
// without items as promotional or non-receipt mail.
func (o *ParsedOrder) Actionable() bool {
	return len(o.Items) > 0
}

// emptyOrder is the placeholder returned for messages that could not be parsed
func emptyOrder() *ParsedOrder {
	return &ParsedOrder{
		Items:    []LineItem{},
		Totals:   Totals{},
		Category: CategoryUnknown,
	}
}

// ItemOutcome is the result of extracting one item: either an item or the
// reason it was skipped.
type ItemOutcome struct {
	Item   LineItem
	Reason string
}

// Skipped reports whether the item was dropped
func (o ItemOutcome) Skipped() bool {
	return o.Reason != ""
}

func ok(item LineItem) ItemOutcome {
	return ItemOutcome{Item: item}
}

func skip(format string, args ...any) ItemOutcome {
	return ItemOutcome{Reason: fmt.Sprintf(format, args...)}
}
