package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"
)

const (
	ordersBucket      = "orders"
	rawMessagesBucket = "raw_messages"
	runsBucket        = "runs"
)

// ErrNotFound is wrapped by lookups that find nothing
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveOrder inserts or replaces an order together with its items
	SaveOrder(ctx context.Context, order *Order) error

	// GetOrder retrieves an order by Gmail id
	GetOrder(ctx context.Context, gmailID string) (*Order, error)

	// ListOrders returns orders matching the filter, ordered by date then id
	ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error)

	// DeleteOrder removes an order and its items
	DeleteOrder(ctx context.Context, gmailID string) error

	// SaveRawMessage inserts or replaces a cached email
	SaveRawMessage(ctx context.Context, msg *RawMessage) error

	// CachedIDs reports which of ids are already cached
	CachedIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// RawMessages returns cached emails in range, ordered by date then id
	RawMessages(ctx context.Context, q RangeQuery) ([]*RawMessage, error)

	// SaveRun inserts or replaces a pipeline run
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns returns runs, newest first
	ListRuns(ctx context.Context) ([]*Run, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{ordersBucket, rawMessagesBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// put marshals v into bucket under key
func (b *BoltDB) put(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// SaveOrder saves an order; items live inside the order value so the write
// is atomic
func (b *BoltDB) SaveOrder(ctx context.Context, order *Order) error {
	if order.GmailID == "" {
		return fmt.Errorf("order has no gmail id")
	}
	return b.put(ordersBucket, order.GmailID, order)
}

// GetOrder retrieves an order by Gmail id
func (b *BoltDB) GetOrder(ctx context.Context, gmailID string) (*Order, error) {
	var order *Order
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ordersBucket)).Get([]byte(gmailID))
		if data == nil {
			return fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
		}
		return json.Unmarshal(data, &order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders matching the filter
func (b *BoltDB) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	orders := make([]*Order, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ordersBucket)).ForEach(func(k, v []byte) error {
			var order Order
			if err := json.Unmarshal(v, &order); err != nil {
				return fmt.Errorf("unmarshaling order: %w", err)
			}
			if filter.Matches(&order) {
				orders = append(orders, &order)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Date.Equal(orders[j].Date) {
			return orders[i].Date.Before(orders[j].Date)
		}
		return orders[i].GmailID < orders[j].GmailID
	})
	return orders, nil
}

// DeleteOrder removes an order
func (b *BoltDB) DeleteOrder(ctx context.Context, gmailID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ordersBucket))
		if bucket.Get([]byte(gmailID)) == nil {
			return fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
		}
		return bucket.Delete([]byte(gmailID))
	})
}

// SaveRawMessage caches an email
func (b *BoltDB) SaveRawMessage(ctx context.Context, msg *RawMessage) error {
	if msg.GmailID == "" {
		return fmt.Errorf("message has no gmail id")
	}
	return b.put(rawMessagesBucket, msg.GmailID, msg)
}

// CachedIDs reports which of ids are already cached
func (b *BoltDB) CachedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	cached := make(map[string]bool)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rawMessagesBucket))
		for _, id := range ids {
			if bucket.Get([]byte(id)) != nil {
				cached[id] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// RawMessages returns cached emails in range
func (b *BoltDB) RawMessages(ctx context.Context, q RangeQuery) ([]*RawMessage, error) {
	msgs := make([]*RawMessage, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(rawMessagesBucket)).ForEach(func(k, v []byte) error {
			var msg RawMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("unmarshaling raw message: %w", err)
			}
			if q.Matches(&msg) {
				msgs = append(msgs, &msg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Date.Equal(msgs[j].Date) {
			return msgs[i].Date.Before(msgs[j].Date)
		}
		return msgs[i].GmailID < msgs[j].GmailID
	})
	if q.Limit > 0 && len(msgs) > q.Limit {
		msgs = msgs[:q.Limit]
	}
	return msgs, nil
}

// SaveRun saves a pipeline run
func (b *BoltDB) SaveRun(ctx context.Context, run *Run) error {
	return b.put(runsBucket, run.ID, run)
}

// ListRuns returns runs, newest first
func (b *BoltDB) ListRuns(ctx context.Context) ([]*Run, error) {
	runs := make([]*Run, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
