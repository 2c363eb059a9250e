// Package order stores parsed receipt orders and runs the fetch and parse
// pipeline behind a JSON API.
package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikipra16/parsely/internal/extract"
	"github.com/nikipra16/parsely/internal/mailbox"
)

// Order is a parsed receipt, keyed by the id of the email it came from
type Order struct {
	GmailID   string             `json:"gmail_id"`
	Date      time.Time          `json:"date"`
	From      string             `json:"from"`
	Subject   string             `json:"subject"`
	StoreName string             `json:"store_name"`
	Category  extract.Category   `json:"category"`
	Items     []extract.LineItem `json:"items"`
	Totals    extract.Totals     `json:"totals"`
	// ParseError is set on placeholder orders for emails that failed to parse
	ParseError string    `json:"parse_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Total returns the order total and whether the receipt stated one
func (o *Order) Total() (decimal.Decimal, bool) {
	return o.Totals.Get(extract.FieldTotal)
}

// RawMessage is a cached copy of a fetched email
type RawMessage struct {
	GmailID   string    `json:"gmail_id" bson:"gmail_id"`
	Date      time.Time `json:"date" bson:"date"`
	Subject   string    `json:"subject" bson:"subject"`
	From      string    `json:"from" bson:"from"`
	Body      string    `json:"body" bson:"body"`
	HTMLBody  string    `json:"html_body,omitempty" bson:"html_body"`
	FetchedAt time.Time `json:"fetched_at" bson:"fetched_at"`
}

// NewRawMessage converts a retrieved message for caching
func NewRawMessage(msg *mailbox.Message, fetchedAt time.Time) (*RawMessage, error) {
	date, err := msg.Time()
	if err != nil {
		return nil, err
	}
	return &RawMessage{
		GmailID:   msg.ID,
		Date:      date,
		Subject:   msg.Subject,
		From:      msg.From,
		Body:      msg.Body,
		HTMLBody:  msg.HTMLBody,
		FetchedAt: fetchedAt,
	}, nil
}

// Email returns the parser input for the message
func (m *RawMessage) Email() extract.RawEmail {
	return extract.RawEmail{
		From:     m.From,
		Subject:  m.Subject,
		Body:     m.Body,
		HTMLBody: m.HTMLBody,
	}
}

// RunStatus is the outcome of a pipeline run
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Run records one sync or reparse
type Run struct {
	ID                 string     `json:"id" bson:"run_id"`
	Kind               string     `json:"kind" bson:"kind"`
	StartDate          *time.Time `json:"start_date,omitempty" bson:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Limit              int        `json:"limit,omitempty" bson:"limit_emails"`
	StartedAt          time.Time  `json:"started_at" bson:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Status             RunStatus  `json:"status" bson:"status"`
	Error              string     `json:"error,omitempty" bson:"error"`
	EmailsFetched      int        `json:"emails_fetched" bson:"emails_fetched"`
	EmailsLoaded       int        `json:"emails_loaded" bson:"emails_loaded"`
	OrdersUpserted     int        `json:"orders_upserted" bson:"orders_upserted"`
	OrdersWithTotal    int        `json:"orders_with_total" bson:"orders_with_total"`
	OrdersMissingTotal int        `json:"orders_missing_total" bson:"orders_missing_total"`
}

// RangeQuery selects cached messages. Start and End are days; End is
// inclusive. Zero values leave that end open.
type RangeQuery struct {
	Start   time.Time `json:"start_date"`
	End     time.Time `json:"end_date"`
	Senders []string  `json:"senders,omitempty"`
	// Limit caps the number of messages; 0 means no cap
	Limit int `json:"limit,omitempty"`
}

// Matches reports whether a message falls inside the range
func (q RangeQuery) Matches(m *RawMessage) bool {
	if !q.Start.IsZero() && m.Date.Before(startOfDay(q.Start)) {
		return false
	}
	if !q.End.IsZero() && !m.Date.Before(startOfDay(q.End).AddDate(0, 0, 1)) {
		return false
	}
	return senderMatches(m.From, q.Senders)
}

// ErrInvalidRange is wrapped by RangeQuery.Validate failures
var ErrInvalidRange = errors.New("invalid range")

// Validate checks the range is well formed
func (q RangeQuery) Validate() error {
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRange, q.End.Format(time.DateOnly), q.Start.Format(time.DateOnly))
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidRange)
	}
	return nil
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Category extract.Category
	From     time.Time
	To       time.Time
}

// Matches reports whether an order passes the filter
func (f OrderFilter) Matches(o *Order) bool {
	if f.Category != "" && o.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && o.Date.Before(startOfDay(f.From)) {
		return false
	}
	if !f.To.IsZero() && !o.Date.Before(startOfDay(f.To).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func senderMatches(from string, senders []string) bool {
	from = strings.ToLower(from)
	filtered := false
	for _, s := range senders {
		if s = strings.ToLower(strings.TrimSpace(s)); s == "" {
			continue
		}
		filtered = true
		if strings.Contains(from, s) {
			return true
		}
	}
	return !filtered
}
