package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nikipra16/parsely/internal/extract"
)

const (
	ordersCollection      = "orders"
	rawMessagesCollection = "raw_messages"
	runsCollection        = "pipeline_runs"
)

// orderDoc is the stored form of an Order; amounts are decimal strings
type orderDoc struct {
	GmailID    string            `bson:"gmail_id"`
	Date       time.Time         `bson:"date"`
	From       string            `bson:"from"`
	Subject    string            `bson:"subject"`
	StoreName  string            `bson:"store_name"`
	Category   string            `bson:"category"`
	Items      []itemDoc         `bson:"items"`
	Totals     map[string]string `bson:"totals"`
	ParseError string            `bson:"parse_error,omitempty"`
	CreatedAt  time.Time         `bson:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at"`
}

type itemDoc struct {
	Brand    string `bson:"brand"`
	Name     string `bson:"name"`
	Quantity int    `bson:"qty"`
	Price    string `bson:"price"`
}

func newOrderDoc(o *Order) orderDoc {
	doc := orderDoc{
		GmailID:    o.GmailID,
		Date:       o.Date,
		From:       o.From,
		Subject:    o.Subject,
		StoreName:  o.StoreName,
		Category:   string(o.Category),
		Items:      make([]itemDoc, 0, len(o.Items)),
		Totals:     make(map[string]string, len(o.Totals)),
		ParseError: o.ParseError,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, itemDoc{
			Brand:    item.Brand,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.UnitPrice.String(),
		})
	}
	for field, amount := range o.Totals {
		doc.Totals[string(field)] = amount.String()
	}
	return doc
}

func (d orderDoc) order() (*Order, error) {
	o := &Order{
		GmailID:    d.GmailID,
		Date:       d.Date,
		From:       d.From,
		Subject:    d.Subject,
		StoreName:  d.StoreName,
		Category:   extract.Category(d.Category),
		Items:      make([]extract.LineItem, 0, len(d.Items)),
		Totals:     make(extract.Totals, len(d.Totals)),
		ParseError: d.ParseError,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	for _, item := range d.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing item price: %w", err)
		}
		o.Items = append(o.Items, extract.LineItem{
			Brand:     item.Brand,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	for field, v := range d.Totals {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", field, err)
		}
		o.Totals[extract.TotalField(field)] = amount
	}
	return o, nil
}

// Mongo implements the DB interface using MongoDB
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to url, selects database and ensures indexes
func NewMongo(ctx context.Context, url, database string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(20).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(database)}
	if err := m.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		ordersCollection: {
			{Keys: bson.D{{Key: "gmail_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		rawMessagesCollection: {
			{Keys: bson.D{{Key: "gmail_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		runsCollection: {
			{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: unique},
		},
	}
	for name, models := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return nil
}

// SaveOrder replaces the order document, items included
func (m *Mongo) SaveOrder(ctx context.Context, order *Order) error {
	if order.GmailID == "" {
		return fmt.Errorf("order has no gmail id")
	}
	_, err := m.db.Collection(ordersCollection).ReplaceOne(ctx,
		bson.M{"gmail_id": order.GmailID}, newOrderDoc(order), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by Gmail id
func (m *Mongo) GetOrder(ctx context.Context, gmailID string) (*Order, error) {
	var doc orderDoc
	err := m.db.Collection(ordersCollection).FindOne(ctx, bson.M{"gmail_id": gmailID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return doc.order()
}

// ListOrders returns orders matching the filter
func (m *Mongo) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = string(filter.Category)
	}
	if date := dateRange(filter.From, filter.To); len(date) > 0 {
		query["date"] = date
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "gmail_id", Value: 1}})
	cursor, err := m.db.Collection(ordersCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding orders: %w", err)
	}

	orders := make([]*Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.order()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// DeleteOrder removes an order
func (m *Mongo) DeleteOrder(ctx context.Context, gmailID string) error {
	res, err := m.db.Collection(ordersCollection).DeleteOne(ctx, bson.M{"gmail_id": gmailID})
	if err != nil {
		return fmt.Errorf("deleting order: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
	}
	return nil
}

// SaveRawMessage upserts a cached email
func (m *Mongo) SaveRawMessage(ctx context.Context, msg *RawMessage) error {
	_, err := m.db.Collection(rawMessagesCollection).ReplaceOne(ctx,
		bson.M{"gmail_id": msg.GmailID}, msg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting raw message: %w", err)
	}
	return nil
}

// CachedIDs reports which of ids are already cached
func (m *Mongo) CachedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	cached := make(map[string]bool)
	if len(ids) == 0 {
		return cached, nil
	}

	opts := options.Find().SetProjection(bson.M{"gmail_id": 1})
	cursor, err := m.db.Collection(rawMessagesCollection).Find(ctx, bson.M{"gmail_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("checking cached ids: %w", err)
	}
	var docs []struct {
		GmailID string `bson:"gmail_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding cached ids: %w", err)
	}
	for _, d := range docs {
		cached[d.GmailID] = true
	}
	return cached, nil
}

// RawMessages returns cached emails in range
func (m *Mongo) RawMessages(ctx context.Context, q RangeQuery) ([]*RawMessage, error) {
	query := bson.M{}
	if date := dateRange(q.Start, q.End); len(date) > 0 {
		query["date"] = date
	}
	var senders bson.A
	for _, s := range q.Senders {
		if s != "" {
			senders = append(senders, bson.M{"from": bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}})
		}
	}
	if len(senders) > 0 {
		query["$or"] = senders
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "gmail_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := m.db.Collection(rawMessagesCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("loading raw messages: %w", err)
	}
	msgs := make([]*RawMessage, 0)
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decoding raw messages: %w", err)
	}
	return msgs, nil
}

// SaveRun upserts a pipeline run
func (m *Mongo) SaveRun(ctx context.Context, run *Run) error {
	_, err := m.db.Collection(runsCollection).ReplaceOne(ctx,
		bson.M{"run_id": run.ID}, run, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first
func (m *Mongo) ListRuns(ctx context.Context) ([]*Run, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	cursor, err := m.db.Collection(runsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]*Run, 0)
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("decoding runs: %w", err)
	}
	return runs, nil
}

// Close disconnects the client
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// dateRange builds a date filter with an inclusive end day
func dateRange(start, end time.Time) bson.M {
	r := bson.M{}
	if !start.IsZero() {
		r["$gte"] = startOfDay(start)
	}
	if !end.IsZero() {
		r["$lt"] = startOfDay(end).AddDate(0, 0, 1)
	}
	return r
}
