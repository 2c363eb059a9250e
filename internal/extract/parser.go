package extract

import (
	"fmt"
	"log/slog"
	"strings"
)

// Parser turns receipt emails into orders. It is immutable once built and
// safe for concurrent use; build one at startup and share it.
type Parser struct {
	catalog *Catalog
	rules   Rules
}

// Option configures a Parser
type Option func(*Parser)

// WithRules replaces the built-in keyword tables
func WithRules(rules Rules) Option {
	return func(p *Parser) {
		p.rules = rules
	}
}

// NewParser creates a Parser over a brand catalog. A nil catalog is treated as
// an empty one.
func NewParser(catalog *Catalog, opts ...Option) *Parser {
	if catalog == nil {
		catalog = EmptyCatalog()
	}
	p := &Parser{
		catalog: catalog,
		rules:   DefaultRules(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Catalog returns the brand catalog in use
func (p *Parser) Catalog() *Catalog {
	return p.catalog
}

// Parse extracts items, totals, category and store name from one email. The
// returned order is never nil. When the email cannot be processed at all the
// order is an Unknown placeholder without items and the error says why.
func (p *Parser) Parse(email RawEmail) (order *ParsedOrder, err error) {
	defer func() {
		if r := recover(); r != nil {
			order = emptyOrder()
			err = fmt.Errorf("parsing email from %q: %v", email.From, r)
		}
	}()

	source := email.Body
	if strings.TrimSpace(source) == "" {
		source = email.HTMLBody
	}
	text, err := ToPlainText(source)
	if err != nil {
		return emptyOrder(), fmt.Errorf("normalizing body: %w", err)
	}
	cleaned := TruncateAtCutoff(text, p.rules.CutoffPhrases)

	vendor := p.rules.ResolveVendor(email.From)
	outcomes, totals, err := p.extractItems(cleaned, vendor, email)
	if err != nil {
		return emptyOrder(), err
	}

	items := make([]LineItem, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Skipped() {
			slog.Warn("Skipped receipt item", "from", email.From, "vendor", vendor.Signal, "reason", o.Reason)
			continue
		}
		items = append(items, o.Item)
	}

	if len(totals) == 0 {
		totals = ExtractTotals(cleaned, GenericTotals)
	}

	category := p.Categorize(items, email.From, email.Subject)
	return &ParsedOrder{
		Items:     items,
		Totals:    totals,
		Category:  category,
		StoreName: p.ResolveStoreName(category, email.From, email.Subject),
	}, nil
}

// extractItems runs the extraction strategy for the vendor. Vendor totals are
// returned only by strategies that read them from their own source.
func (p *Parser) extractItems(cleaned string, vendor Vendor, email RawEmail) ([]ItemOutcome, Totals, error) {
	switch vendor.Signal {
	case VendorStructuredMarkup:
		if !strings.Contains(strings.ToLower(email.Subject), vendor.ReceiptMarker) {
			slog.Debug("Skipping non-receipt email", "from", email.From, "subject", email.Subject)
			return nil, Totals{}, nil
		}
		if strings.TrimSpace(email.HTMLBody) == "" {
			return nil, Totals{}, nil
		}
		return p.extractStructured(email.HTMLBody)
	case VendorMultiCategoryDelivery, VendorGeneric:
		return p.extractGeneric(cleaned, vendor, email.Subject), Totals{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vendor signal %v", vendor.Signal)
	}
}
