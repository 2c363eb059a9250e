package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser     = "me"
	gmailPageSize = 100
)

// GmailConfig holds Gmail configuration
type GmailConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from the Google console
	CredentialsFile string
	// TokenFile holds the token saved by Authorize
	TokenFile string
	// RequestsPerSecond paces API calls; 0 uses the default
	RequestsPerSecond float64
}

// Gmail implements the Mailbox interface using the Gmail API
type Gmail struct {
	svc     *gmail.Service
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGmail creates a Gmail mailbox from saved OAuth credentials
func NewGmail(ctx context.Context, cfg GmailConfig) (*Gmail, error) {
	config, err := oauthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("loading token (run with --authorize first): %w", err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return newGmail(svc, cfg.RequestsPerSecond), nil
}

// NewGmailWithClient creates a Gmail mailbox talking to endpoint through client.
// It skips OAuth and is meant for tests and proxies.
func NewGmailWithClient(ctx context.Context, client *http.Client, endpoint string) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return newGmail(svc, 0), nil
}

func newGmail(svc *gmail.Service, rps float64) *Gmail {
	if rps <= 0 {
		rps = 10
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// 404s do not count towards tripping
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err)
		},
	}

	return &Gmail{
		svc:     svc,
		cb:      gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ListMessageIDs pages through the search results for q
func (g *Gmail) ListMessageIDs(ctx context.Context, q Query) ([]string, error) {
	query := BuildQuery(q)
	slog.Info("Listing Gmail messages", "query", query)

	var ids []string
	pageToken := ""
	for {
		req := g.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(gmailPageSize)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := g.execute(ctx, func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if q.MaxResults > 0 && len(ids) >= q.MaxResults {
				return ids, nil
			}
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// GetMessage fetches and decodes a full message
func (g *Gmail) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg *gmail.Message
	err := g.execute(ctx, func() error {
		var apiErr error
		msg, apiErr = g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("getting message %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return parseMessage(msg), nil
}

// Close is a no-op; the API client holds no resources
func (g *Gmail) Close() error {
	return nil
}

// execute paces fn and runs it behind the circuit breaker
func (g *Gmail) execute(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return config, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}
