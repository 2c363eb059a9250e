package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/nikipra16/parsely/internal/extract"
	"github.com/nikipra16/parsely/internal/mailbox"
	"github.com/nikipra16/parsely/internal/order"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const defaultSenders = "doordash.com,instacart.ca,walmart.com,loblaws.ca,costco.ca"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	fs := ff.NewFlagSet("parsely")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		storeType   = fs.StringLong("store", "bolt", "Order store: 'bolt', 'postgres' or 'mongo'")
		dbPath      = fs.StringLong("db", "parsely.db", "BoltDB file path")
		postgresURL = fs.StringLong("postgres-url", "", "PostgreSQL connection URL")
		mongoURL    = fs.StringLong("mongo-url", "mongodb://localhost:27017", "MongoDB connection URL")
		mongoDB     = fs.StringLong("mongo-db", "parsely", "MongoDB database name")
		brandsPath  = fs.StringLong("brands", "brands.json", "Brand catalog file (JSON or YAML)")
		rulesPath   = fs.StringLong("rules", "", "Vendor and keyword rules file (YAML, optional)")
		mailboxType = fs.StringLong("mailbox", "gmail", "Mailbox: 'gmail', 'dir' or 'none'")
		mailDir     = fs.StringLong("mail-dir", "./mail", "Directory of saved messages for the 'dir' mailbox")
		credentials = fs.StringLong("gmail-credentials", "credentials.json", "Gmail OAuth client credentials file")
		tokenPath   = fs.StringLong("gmail-token", "token.json", "Gmail OAuth token file")
		gmailRate   = fs.Float64Long("gmail-rate", 10, "Gmail API requests per second")
		authorize   = fs.BoolLong("authorize", "Run the Gmail consent flow, save the token and exit")
		syncOnce    = fs.BoolLong("sync", "Sync once over the default range and exit")
		senders     = fs.StringLong("senders", defaultSenders, "Comma-separated sender fragments to sync")
		months      = fs.IntLong("months", 6, "Months to look back when a sync has no start date")
		workers     = fs.IntLong("workers", 4, "Parallel email parsers")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PARSELY"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *authorize {
		if err := mailbox.Authorize(ctx, *credentials, *tokenPath, os.Stdin, os.Stdout); err != nil {
			slog.Error("Authorization failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Token saved", "path", *tokenPath)
		return
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *storeType)
	db, err := openDB(ctx, *storeType, *dbPath, *postgresURL, *mongoURL, *mongoDB)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize mailbox
	var mb mailbox.Mailbox
	switch *mailboxType {
	case "gmail":
		slog.Info("Initializing Gmail mailbox...")
		mb, err = mailbox.NewGmail(ctx, mailbox.GmailConfig{
			CredentialsFile:   *credentials,
			TokenFile:         *tokenPath,
			RequestsPerSecond: *gmailRate,
		})
	case "dir":
		slog.Info("Initializing directory mailbox...", "path", *mailDir)
		mb, err = mailbox.NewDir(*mailDir)
	case "none":
		slog.Info("No mailbox configured, only cached emails can be parsed")
	default:
		slog.Error("Invalid mailbox type", "type", *mailboxType, "valid", "gmail, dir or none")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize mailbox", "error", err)
		os.Exit(1)
	}
	if mb != nil {
		defer mb.Close()
	}

	// Initialize parser
	catalog := extract.LoadCatalog(*brandsPath)
	var opts []extract.Option
	if *rulesPath != "" {
		rules, err := extract.LoadRules(*rulesPath)
		if err != nil {
			slog.Warn("Failed to load rules, using defaults", "path", *rulesPath, "error", err)
		} else {
			opts = append(opts, extract.WithRules(rules))
		}
	}
	parser := extract.NewParser(catalog, opts...)

	// Initialize service
	orderService := order.NewService(db, mb, parser, order.Config{
		Workers:        *workers,
		Senders:        splitList(*senders),
		LookbackMonths: *months,
	})

	if *syncOnce {
		run, err := orderService.Sync(ctx, order.SyncRequest{})
		if err != nil {
			slog.Error("Sync failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Sync complete", "id", run.ID, "orders", run.OrdersUpserted)
		return
	}

	// Initialize server
	basicAuth := order.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := order.NewServer(orderService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
}

// openDB opens the configured order store
func openDB(ctx context.Context, storeType, dbPath, postgresURL, mongoURL, mongoDB string) (order.DB, error) {
	switch storeType {
	case "bolt":
		return order.NewBoltDB(dbPath)
	case "postgres":
		if postgresURL == "" {
			return nil, fmt.Errorf("--postgres-url is required for the postgres store")
		}
		return order.NewPostgres(ctx, postgresURL)
	case "mongo":
		return order.NewMongo(ctx, mongoURL, mongoDB)
	default:
		return nil, fmt.Errorf("invalid store type %q, valid: bolt, postgres or mongo", storeType)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
