package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Dir implements the Mailbox interface over a directory of JSON message
// records, one <id>.json file per message
type Dir struct {
	basePath string
}

// NewDir creates a Dir mailbox, creating the directory if needed
func NewDir(basePath string) (*Dir, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating mailbox directory: %w", err)
	}

	return &Dir{
		basePath: basePath,
	}, nil
}

// Save writes a message record
func (d *Dir) Save(msg *Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message has no id")
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if err := os.WriteFile(d.path(msg.ID), data, 0644); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// ListMessageIDs returns matching ids ordered by date, then id
func (d *Dir) ListMessageIDs(ctx context.Context, q Query) ([]string, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading mailbox directory: %w", err)
	}

	type candidate struct {
		id   string
		date int64
	}
	var matches []candidate
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		msg, err := d.read(filepath.Join(d.basePath, entry.Name()))
		if err != nil {
			return nil, err
		}
		received, err := msg.Time()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		if !q.After.IsZero() && received.Before(q.After) {
			continue
		}
		if !q.Before.IsZero() && !received.Before(q.Before) {
			continue
		}
		if !matchesSender(msg.From, q.Senders) {
			continue
		}
		matches = append(matches, candidate{id: msg.ID, date: received.UnixMilli()})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].date != matches[j].date {
			return matches[i].date < matches[j].date
		}
		return matches[i].id < matches[j].id
	})

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if q.MaxResults > 0 && len(ids) >= q.MaxResults {
			break
		}
		ids = append(ids, m.id)
	}
	return ids, nil
}

// GetMessage reads the record for id
func (d *Dir) GetMessage(ctx context.Context, id string) (*Message, error) {
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, fmt.Errorf("invalid message id %q", id)
	}
	msg, err := d.read(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("getting message %s: %w", id, ErrMessageNotFound)
	}
	return msg, err
}

// Close is a no-op
func (d *Dir) Close() error {
	return nil
}

func (d *Dir) path(id string) string {
	return filepath.Join(d.basePath, id+".json")
}

func (d *Dir) read(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", filepath.Base(path), err)
	}
	if msg.ID == "" {
		msg.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return &msg, nil
}
