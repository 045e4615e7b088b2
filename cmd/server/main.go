/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the family ledger. Wires configuration, the
  store, the mutation engine and the HTTP API.

COMMANDS:
  serve      Run the HTTP API (and the periodic ledger audit)
  reconcile  Check balance == sum(transactions) for every child; exits
             non-zero on drift
  token      Sign a bearer token for local development
  seed       Load a demo family into the database

STARTUP SEQUENCE (serve):
  1. Load config: defaults -> YAML file -> .env/environment -> flags
  2. Set up zerolog
  3. Open the store (sqlite or postgres)
  4. Build engine, services, handler and router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the ledger audit
  4. Close database connection

EXAMPLES:
  server serve --config ./ledger.yaml
  server serve --db-driver sqlite --dsn ":memory:" --port 3000
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://... server reconcile
  server token --sub parent-1 --role parent

SEE ALSO:
  - config/config.go: Settings and precedence
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/allowance"
	"github.com/warp/family-ledger/api"
	"github.com/warp/family-ledger/audit"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/config"
	"github.com/warp/family-ledger/goals"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/metrics"
	"github.com/warp/family-ledger/store/postgres"
	"github.com/warp/family-ledger/store/sqlite"
)

// errDrift makes reconcile exit non-zero without printing usage.
var errDrift = errors.New("ledger drift detected")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flags are bound to every command and override the loaded config.
type flags struct {
	configPath string
	port       string
	driver     string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "server",
		Short:         "Family ledger: allowances, chores and savings goals",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&f.port, "port", "", "HTTP server port")
	root.PersistentFlags().StringVar(&f.driver, "db-driver", "", "store driver: sqlite or postgres")
	root.PersistentFlags().StringVar(&f.dsn, "dsn", "", `database path or URL (":memory:" for an in-memory SQLite)`)
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "zerolog level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(&f),
		newReconcileCmd(&f),
		newTokenCmd(&f),
		newSeedCmd(&f),
	)
	return root
}

// load resolves configuration and applies the flags the user actually set.
func load(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	pf := cmd.Flags()
	if pf.Changed("port") {
		cfg.Port = f.port
	}
	if pf.Changed("db-driver") {
		cfg.Database.Driver = f.driver
	}
	if pf.Changed("dsn") {
		cfg.Database.DSN = f.dsn
	}
	if pf.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(c config.Log) {
	output := io.Writer(os.Stdout)
	if c.Format == "human" {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(output).With().Timestamp().Logger()
}

// store is what the commands need from either backend.
type store interface {
	ledger.Store
	Ping(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, c config.Database) (store, error) {
	switch c.Driver {
	case config.DriverPostgres:
		return postgres.Connect(ctx, c.DSN)
	case config.DriverSQLite:
		return sqlite.New(c.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", c.Driver)
	}
}

// newEngine builds the engine with the configured spending-window zone.
func newEngine(cfg *config.Config, st ledger.Store) (*ledger.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	engine := ledger.NewEngine(st)
	engine.Location = loc
	return engine, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer st.Close()

	engine, err := newEngine(cfg, st)
	if err != nil {
		return err
	}
	m := metrics.New()
	engine.Observer = m

	rate, err := cfg.RewardRate()
	if err != nil {
		return err
	}
	accountsSvc := accounts.NewService(engine)
	handler := api.NewHandler(
		accountsSvc,
		allowance.NewPayer(engine, accountsSvc),
		goals.NewService(engine),
		chores.NewService(engine, chores.RewardPolicy{Rate: rate}),
		st,
	)
	router := api.NewRouter(handler, api.Options{
		Auth:           api.NewAuthenticator(cfg.Auth.JWTSecret),
		Metrics:        m,
		Logger:         log.Logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	every, err := cfg.AuditEvery()
	if err != nil {
		return err
	}
	auditor := audit.New(st)
	auditor.Interval = every
	auditor.Reporter = m
	auditor.Start()
	defer auditor.Stop()

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("driver", cfg.Database.Driver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

func newReconcileCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Verify every balance equals the sum of its ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer st.Close()
			return reconcile(cmd.Context(), st, cmd.OutOrStdout())
		},
	}
}

func reconcile(ctx context.Context, r ledger.Reader, out io.Writer) error {
	drifts, err := ledger.Reconcile(ctx, r)
	if err != nil {
		return err
	}
	for _, d := range drifts {
		fmt.Fprintln(out, d.String())
	}
	if len(drifts) > 0 {
		return fmt.Errorf("%w: %d account(s)", errDrift, len(drifts))
	}
	fmt.Fprintln(out, "ok: every balance matches its ledger")
	return nil
}

// =============================================================================
// TOKEN
// =============================================================================

func newTokenCmd(f *flags) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required")
			}
			a := ledger.Actor{ID: sub, Role: ledger.Role(role)}
			if a.ID == "" || !a.Role.Valid() {
				return errors.New("--sub and --role (parent|child) are required")
			}
			tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret).Issue(a, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "parent or child id")
	cmd.Flags().StringVar(&role, "role", "", "parent or child")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
