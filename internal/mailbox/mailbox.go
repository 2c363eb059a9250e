// Package mailbox retrieves receipt emails from a mail provider.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nikipra16/parsely/internal/extract"
)

// ErrMessageNotFound is returned when a message id is unknown to the mailbox
var ErrMessageNotFound = errors.New("message not found")

// Message is one retrieved email
type Message struct {
	ID string `json:"gmail_id"`
	// Date is the receive time in Unix milliseconds, as a decimal string
	Date     string `json:"date"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`
}

// Time returns the receive time
func (m Message) Time() (time.Time, error) {
	ms, err := strconv.ParseInt(m.Date, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing message date %q: %w", m.Date, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// FormatDate renders t in the Message.Date format
func FormatDate(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Email returns the parser input for the message
func (m Message) Email() extract.RawEmail {
	return extract.RawEmail{
		From:     m.From,
		Subject:  m.Subject,
		Body:     m.Body,
		HTMLBody: m.HTMLBody,
	}
}

// Query selects messages by receive date and sender
type Query struct {
	// After is inclusive, Before exclusive; zero values leave the window open
	After  time.Time
	Before time.Time
	// Senders are address fragments, any of which may match
	Senders []string
	// MaxResults caps the number of ids returned; 0 means no cap
	MaxResults int
}

// Mailbox defines the interface for mail retrieval
type Mailbox interface {
	// ListMessageIDs returns the ids of messages matching the query
	ListMessageIDs(ctx context.Context, q Query) ([]string, error)

	// GetMessage retrieves a full message
	GetMessage(ctx context.Context, id string) (*Message, error)

	// Close releases resources
	Close() error
}
