package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nikipra16/parsely/internal/extract"
)

const postgresSchema = `
create table if not exists orders (
  id          bigserial primary key,
  gmail_id    text not null unique,
  order_ts    timestamptz not null,
  from_email  text not null default '',
  subject     text not null default '',
  store_name  text not null default '',
  category    text not null,
  subtotal    numeric(12,2),
  tax         numeric(12,2),
  service_fee numeric(12,2),
  total       numeric(12,2),
  parse_error text not null default '',
  created_at  timestamptz not null,
  updated_at  timestamptz not null
);
create table if not exists order_items (
  id         bigserial primary key,
  order_id   bigint not null references orders(id) on delete cascade,
  position   int not null,
  brand      text not null,
  item_name  text not null,
  quantity   int not null,
  item_price numeric(12,2) not null
);
create index if not exists order_items_order_id on order_items(order_id);
create table if not exists raw_gmail (
  gmail_id   text primary key,
  date_ts    timestamptz not null,
  subject    text not null default '',
  from_email text not null default '',
  body       text not null default '',
  html_body  text not null default '',
  fetched_at timestamptz not null
);
create index if not exists raw_gmail_date_ts on raw_gmail(date_ts);
create table if not exists pipeline_run (
  id                   text primary key,
  kind                 text not null,
  start_date           timestamptz,
  end_date             timestamptz,
  limit_emails         int not null default 0,
  started_at           timestamptz not null,
  ended_at             timestamptz,
  status               text not null,
  error                text not null default '',
  emails_fetched       int not null default 0,
  emails_loaded        int not null default 0,
  orders_upserted      int not null default 0,
  orders_with_total    int not null default 0,
  orders_missing_total int not null default 0
);
`

const orderColumns = `gmail_id, order_ts, from_email, subject, store_name, category,
  subtotal::text, tax::text, service_fee::text, total::text, parse_error, created_at, updated_at`

// Postgres implements the DB interface using PostgreSQL
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and creates the schema if needed
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// SaveOrder upserts the order and replaces its items in one transaction
func (p *Postgres) SaveOrder(ctx context.Context, order *Order) error {
	if order.GmailID == "" {
		return fmt.Errorf("order has no gmail id")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx, `
insert into orders (gmail_id, order_ts, from_email, subject, store_name, category,
  subtotal, tax, service_fee, total, parse_error, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13)
on conflict (gmail_id) do update set
  order_ts = excluded.order_ts,
  from_email = excluded.from_email,
  subject = excluded.subject,
  store_name = excluded.store_name,
  category = excluded.category,
  subtotal = excluded.subtotal,
  tax = excluded.tax,
  service_fee = excluded.service_fee,
  total = excluded.total,
  parse_error = excluded.parse_error,
  updated_at = excluded.updated_at
returning id`,
		order.GmailID, order.Date, order.From, order.Subject, order.StoreName, string(order.Category),
		amountParam(order.Totals, extract.FieldSubtotal),
		amountParam(order.Totals, extract.FieldTax),
		amountParam(order.Totals, extract.FieldServiceFee),
		amountParam(order.Totals, extract.FieldTotal),
		order.ParseError, order.CreatedAt, order.UpdatedAt,
	).Scan(&orderID)
	if err != nil {
		return fmt.Errorf("upserting order: %w", err)
	}

	if _, err := tx.Exec(ctx, `delete from order_items where order_id = $1`, orderID); err != nil {
		return fmt.Errorf("deleting order items: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(`
insert into order_items (order_id, position, brand, item_name, quantity, item_price)
values ($1, $2, $3, $4, $5, $6::numeric)`,
			orderID, i, item.Brand, item.Name, item.Quantity, item.UnitPrice.StringFixed(2))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by Gmail id
func (p *Postgres) GetOrder(ctx context.Context, gmailID string) (*Order, error) {
	row := p.pool.QueryRow(ctx, `select `+orderColumns+` from orders where gmail_id = $1`, gmailID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	if err := p.loadItems(ctx, []*Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders matching the filter
func (p *Postgres) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		t := startOfDay(filter.From)
		from = &t
	}
	if !filter.To.IsZero() {
		t := startOfDay(filter.To).AddDate(0, 0, 1)
		to = &t
	}

	rows, err := p.pool.Query(ctx, `select `+orderColumns+` from orders
where ($1 = '' or category = $1)
  and ($2::timestamptz is null or order_ts >= $2)
  and ($3::timestamptz is null or order_ts < $3)
order by order_ts, gmail_id`, string(filter.Category), from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	if err := p.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems fills in the items of orders with one query
func (p *Postgres) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = []extract.LineItem{}
		byID[o.GmailID] = o
		ids = append(ids, o.GmailID)
	}

	rows, err := p.pool.Query(ctx, `
select o.gmail_id, i.brand, i.item_name, i.quantity, i.item_price::text
from order_items i join orders o on o.id = i.order_id
where o.gmail_id = any($1)
order by o.gmail_id, i.position`, ids)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gmailID, price string
		var item extract.LineItem
		if err := rows.Scan(&gmailID, &item.Brand, &item.Name, &item.Quantity, &price); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parsing item price: %w", err)
		}
		byID[gmailID].Items = append(byID[gmailID].Items, item)
	}
	return rows.Err()
}

// DeleteOrder removes an order; items cascade
func (p *Postgres) DeleteOrder(ctx context.Context, gmailID string) error {
	tag, err := p.pool.Exec(ctx, `delete from orders where gmail_id = $1`, gmailID)
	if err != nil {
		return fmt.Errorf("deleting order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", gmailID, ErrNotFound)
	}
	return nil
}

// SaveRawMessage upserts a cached email
func (p *Postgres) SaveRawMessage(ctx context.Context, msg *RawMessage) error {
	_, err := p.pool.Exec(ctx, `
insert into raw_gmail (gmail_id, date_ts, subject, from_email, body, html_body, fetched_at)
values ($1, $2, $3, $4, $5, $6, $7)
on conflict (gmail_id) do update set
  date_ts = excluded.date_ts,
  subject = excluded.subject,
  from_email = excluded.from_email,
  body = excluded.body,
  html_body = excluded.html_body,
  fetched_at = excluded.fetched_at`,
		msg.GmailID, msg.Date, msg.Subject, msg.From, msg.Body, msg.HTMLBody, msg.FetchedAt)
	if err != nil {
		return fmt.Errorf("upserting raw message: %w", err)
	}
	return nil
}

// CachedIDs reports which of ids are already cached
func (p *Postgres) CachedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	cached := make(map[string]bool)
	if len(ids) == 0 {
		return cached, nil
	}

	rows, err := p.pool.Query(ctx, `select gmail_id from raw_gmail where gmail_id = any($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("checking cached ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning cached id: %w", err)
		}
		cached[id] = true
	}
	return cached, rows.Err()
}

// RawMessages returns cached emails in range
func (p *Postgres) RawMessages(ctx context.Context, q RangeQuery) ([]*RawMessage, error) {
	var start, end *time.Time
	if !q.Start.IsZero() {
		t := startOfDay(q.Start)
		start = &t
	}
	if !q.End.IsZero() {
		t := startOfDay(q.End).AddDate(0, 0, 1)
		end = &t
	}
	patterns := make([]string, 0, len(q.Senders))
	for _, s := range q.Senders {
		if s != "" {
			patterns = append(patterns, "%"+s+"%")
		}
	}
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	rows, err := p.pool.Query(ctx, `
select gmail_id, date_ts, subject, from_email, body, html_body, fetched_at
from raw_gmail
where ($1::timestamptz is null or date_ts >= $1)
  and ($2::timestamptz is null or date_ts < $2)
  and (cardinality($3::text[]) = 0 or from_email ilike any($3))
order by date_ts, gmail_id
limit $4`, start, end, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("loading raw messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*RawMessage, 0)
	for rows.Next() {
		var m RawMessage
		if err := rows.Scan(&m.GmailID, &m.Date, &m.Subject, &m.From, &m.Body, &m.HTMLBody, &m.FetchedAt); err != nil {
			return nil, fmt.Errorf("scanning raw message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// SaveRun upserts a pipeline run
func (p *Postgres) SaveRun(ctx context.Context, run *Run) error {
	_, err := p.pool.Exec(ctx, `
insert into pipeline_run (id, kind, start_date, end_date, limit_emails, started_at, ended_at, status, error,
  emails_fetched, emails_loaded, orders_upserted, orders_with_total, orders_missing_total)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
on conflict (id) do update set
  ended_at = excluded.ended_at,
  status = excluded.status,
  error = excluded.error,
  emails_fetched = excluded.emails_fetched,
  emails_loaded = excluded.emails_loaded,
  orders_upserted = excluded.orders_upserted,
  orders_with_total = excluded.orders_with_total,
  orders_missing_total = excluded.orders_missing_total`,
		run.ID, run.Kind, run.StartDate, run.EndDate, run.Limit, run.StartedAt, run.EndedAt, string(run.Status), run.Error,
		run.EmailsFetched, run.EmailsLoaded, run.OrdersUpserted, run.OrdersWithTotal, run.OrdersMissingTotal)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first
func (p *Postgres) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := p.pool.Query(ctx, `
select id, kind, start_date, end_date, limit_emails, started_at, ended_at, status, error,
  emails_fetched, emails_loaded, orders_upserted, orders_with_total, orders_missing_total
from pipeline_run order by started_at desc`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartDate, &r.EndDate, &r.Limit, &r.StartedAt, &r.EndedAt, &status, &r.Error,
			&r.EmailsFetched, &r.EmailsLoaded, &r.OrdersUpserted, &r.OrdersWithTotal, &r.OrdersMissingTotal); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var category string
	var subtotal, tax, serviceFee, total *string
	if err := row.Scan(&o.GmailID, &o.Date, &o.From, &o.Subject, &o.StoreName, &category,
		&subtotal, &tax, &serviceFee, &total, &o.ParseError, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Category = extract.Category(category)

	o.Totals = extract.Totals{}
	for field, v := range map[extract.TotalField]*string{
		extract.FieldSubtotal:   subtotal,
		extract.FieldTax:        tax,
		extract.FieldServiceFee: serviceFee,
		extract.FieldTotal:      total,
	} {
		if v == nil {
			continue
		}
		amount, err := decimal.NewFromString(*v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", field, err)
		}
		o.Totals[field] = amount
	}
	return &o, nil
}

// amountParam renders a total for a numeric column; absent totals are NULL
func amountParam(totals extract.Totals, field extract.TotalField) *string {
	v, ok := totals.Get(field)
	if !ok {
		return nil
	}
	s := v.StringFixed(2)
	return &s
}
