package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikipra16/parsely/internal/extract"
	"github.com/nikipra16/parsely/internal/mailbox"
)

// ErrNoMailbox is returned by Sync when the service was built without a mailbox
var ErrNoMailbox = errors.New("no mailbox configured")

const defaultWorkers = 4

// Parser turns an email into an order
type Parser interface {
	Parse(email extract.RawEmail) (*extract.ParsedOrder, error)
}

// IDGenerator generates unique IDs for runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// SyncRequest selects which emails a sync fetches and parses
type SyncRequest struct {
	RangeQuery
}

// Config tunes a Service
type Config struct {
	// Workers bounds parallel parsing; 0 uses the default
	Workers int
	// Senders is used by Sync when a request names none
	Senders []string
	// LookbackMonths sets the start of a Sync without a start date
	LookbackMonths int
}

// Service handles order operations
type Service struct {
	db          DB
	mailbox     mailbox.Mailbox
	parser      Parser
	idGenerator IDGenerator
	timeSource  TimeSource
	config      Config
}

// NewService creates a new Service with default ID generator and time source.
// mb may be nil, in which case only cached emails can be parsed.
func NewService(db DB, mb mailbox.Mailbox, parser Parser, cfg Config) *Service {
	return NewServiceWithDeps(db, mb, parser, &uuidGenerator{}, &defaultTimeSource{}, cfg)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, mb mailbox.Mailbox, parser Parser, idGen IDGenerator, timeSrc TimeSource, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Service{
		db:          db,
		mailbox:     mb,
		parser:      parser,
		idGenerator: idGen,
		timeSource:  timeSrc,
		config:      cfg,
	}
}

// Sync fetches the emails in range that are not cached yet, then reparses the
// whole range
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*Run, error) {
	if s.mailbox == nil {
		return nil, ErrNoMailbox
	}
	if len(req.Senders) == 0 {
		req.Senders = s.config.Senders
	}
	if req.Start.IsZero() && s.config.LookbackMonths > 0 {
		req.Start = startOfDay(s.timeSource.Now().AddDate(0, -s.config.LookbackMonths, 0))
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run, err := s.startRun(ctx, "sync", req.RangeQuery)
	if err != nil {
		return nil, err
	}

	err = s.fetch(ctx, req.RangeQuery, run)
	if err == nil {
		err = s.reparse(ctx, req.RangeQuery, run)
	}
	return s.finishRun(ctx, run, err)
}

// Reparse parses the cached emails in range again and upserts the results
func (s *Service) Reparse(ctx context.Context, q RangeQuery) (*Run, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	run, err := s.startRun(ctx, "reparse", q)
	if err != nil {
		return nil, err
	}
	return s.finishRun(ctx, run, s.reparse(ctx, q, run))
}

// fetch caches every message in range the database does not hold yet
func (s *Service) fetch(ctx context.Context, q RangeQuery, run *Run) error {
	query := mailbox.Query{Senders: q.Senders, MaxResults: q.Limit}
	if !q.Start.IsZero() {
		query.After = startOfDay(q.Start)
	}
	if !q.End.IsZero() {
		query.Before = startOfDay(q.End).AddDate(0, 0, 1)
	}

	ids, err := s.mailbox.ListMessageIDs(ctx, query)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	cached, err := s.db.CachedIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("checking cache: %w", err)
	}
	slog.Info("Found messages", "total", len(ids), "cached", len(cached))

	for _, id := range ids {
		if cached[id] {
			continue
		}

		msg, err := s.mailbox.GetMessage(ctx, id)
		if errors.Is(err, mailbox.ErrMessageNotFound) {
			slog.Warn("Message disappeared before it could be fetched", "id", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("fetching message: %w", err)
		}

		raw, err := NewRawMessage(msg, s.timeSource.Now())
		if err != nil {
			return fmt.Errorf("converting message %s: %w", id, err)
		}
		if err := s.db.SaveRawMessage(ctx, raw); err != nil {
			return fmt.Errorf("caching message %s: %w", id, err)
		}
		run.EmailsFetched++
	}
	return nil
}

// reparse parses cached messages in parallel and stores the actionable ones
func (s *Service) reparse(ctx context.Context, q RangeQuery, run *Run) error {
	msgs, err := s.db.RawMessages(ctx, q)
	if err != nil {
		return fmt.Errorf("loading cached messages: %w", err)
	}
	run.EmailsLoaded = len(msgs)

	orders := make([]*Order, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, msg := range msgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			orders[i] = s.buildOrder(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, o := range orders {
		if o == nil {
			continue
		}
		if err := s.saveOrder(ctx, o); err != nil {
			return err
		}
		run.OrdersUpserted++
		if _, ok := o.Total(); ok {
			run.OrdersWithTotal++
		} else {
			run.OrdersMissingTotal++
		}
	}
	return nil
}

// buildOrder parses one message. Messages without items are not orders and
// yield nil; messages that fail to parse yield a placeholder carrying the error.
func (s *Service) buildOrder(msg *RawMessage) *Order {
	parsed, err := s.parser.Parse(msg.Email())
	if err != nil {
		slog.Warn("Failed to parse email", "id", msg.GmailID, "from", msg.From, "error", err)
	} else if !parsed.Actionable() {
		slog.Debug("Skipping email without items", "id", msg.GmailID, "subject", msg.Subject)
		return nil
	}

	o := &Order{
		GmailID:   msg.GmailID,
		Date:      msg.Date,
		From:      msg.From,
		Subject:   msg.Subject,
		StoreName: parsed.StoreName,
		Category:  parsed.Category,
		Items:     parsed.Items,
		Totals:    parsed.Totals,
	}
	if err != nil {
		o.ParseError = err.Error()
	}
	return o
}

// saveOrder upserts o, keeping the creation time of an existing order
func (s *Service) saveOrder(ctx context.Context, o *Order) error {
	now := s.timeSource.Now()
	o.CreatedAt = now
	o.UpdatedAt = now

	existing, err := s.db.GetOrder(ctx, o.GmailID)
	switch {
	case err == nil:
		o.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("getting order %s: %w", o.GmailID, err)
	}

	if err := s.db.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("saving order %s: %w", o.GmailID, err)
	}
	return nil
}

func (s *Service) startRun(ctx context.Context, kind string, q RangeQuery) (*Run, error) {
	run := &Run{
		ID:        s.idGenerator.Generate(),
		Kind:      kind,
		Limit:     q.Limit,
		StartedAt: s.timeSource.Now(),
		Status:    RunRunning,
	}
	if !q.Start.IsZero() {
		start := q.Start
		run.StartDate = &start
	}
	if !q.End.IsZero() {
		end := q.End
		run.EndDate = &end
	}

	if err := s.db.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	slog.Info("Pipeline run started", "id", run.ID, "kind", kind)
	return run, nil
}

// finishRun records the outcome of run. The run is returned even when it failed.
func (s *Service) finishRun(ctx context.Context, run *Run, runErr error) (*Run, error) {
	ended := s.timeSource.Now()
	run.EndedAt = &ended
	run.Status = RunSuccess
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	// The run outcome is recorded even if the request context is gone
	if err := s.db.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("Failed to save run", "id", run.ID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("saving run: %w", err)
		}
	}

	if runErr != nil {
		slog.Error("Pipeline run failed", "id", run.ID, "error", runErr)
		return run, runErr
	}
	slog.Info("Pipeline run finished",
		"id", run.ID,
		"emails_fetched", run.EmailsFetched,
		"emails_loaded", run.EmailsLoaded,
		"orders_upserted", run.OrdersUpserted,
		"orders_with_total", run.OrdersWithTotal,
		"orders_missing_total", run.OrdersMissingTotal,
	)
	return run, nil
}

// ParseEmail parses a single email without storing anything
func (s *Service) ParseEmail(email extract.RawEmail) (*extract.ParsedOrder, error) {
	return s.parser.Parse(email)
}

// GetOrder retrieves an order by Gmail id
func (s *Service) GetOrder(ctx context.Context, gmailID string) (*Order, error) {
	o, err := s.db.GetOrder(ctx, gmailID)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return o, nil
}

// ListOrders returns orders matching the filter
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	orders, err := s.db.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// DeleteOrder removes an order
func (s *Service) DeleteOrder(ctx context.Context, gmailID string) error {
	if err := s.db.DeleteOrder(ctx, gmailID); err != nil {
		return fmt.Errorf("deleting order: %w", err)
	}
	return nil
}

// ListRuns returns pipeline runs, newest first
func (s *Service) ListRuns(ctx context.Context) ([]*Run, error) {
	runs, err := s.db.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
