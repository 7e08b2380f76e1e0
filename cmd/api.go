package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/leadchat/internal/api"
	"github.com/leadchat/internal/capture"
	"github.com/leadchat/internal/config"
	"github.com/leadchat/internal/database"
	"github.com/leadchat/internal/jobqueue"
	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/logging"
	"github.com/leadchat/internal/relay"
	"github.com/leadchat/internal/retry"
)

// APICommand returns the CLI command for starting the chat relay and lead
// sink server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:    "api",
		Aliases: []string{"serve"},
		Usage:   "Start the LeadChat API server (chat relay and lead sink)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-relay",
				Usage: "Do not serve the chat relay endpoint",
			},
			&cli.BoolFlag{
				Name:  "dev-queue",
				Usage: "Use the development notification queue settings",
			},
			&cli.BoolFlag{
				Name:  "lead-admin",
				Usage: "Serve the unauthenticated lead list, status and delete routes (overrides server.lead_admin)",
			},
			&cli.BoolFlag{
				Name:  "capture",
				Usage: "Record relay and sink exchanges as JSON files under captures/ or $" + capture.EnvCaptureDir,
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Setup(cfg.General.LogLevel, cfg.General.LogPretty)

	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}
	if c.Bool("lead-admin") {
		cfg.Server.LeadAdmin = true
	}
	if c.Bool("capture") {
		capture.Enable()
	}
	if capture.Enabled() {
		log.Info().Msg("capturing relay and sink exchanges")
	}
	if cfg.Server.LeadAdmin {
		log.Warn().Msg("lead management routes are enabled without authentication")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var chat relay.ChatRelay
	if !c.Bool("no-relay") {
		llm, err := relay.NewLLMRelayFromConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create chat relay: %w", err)
		}
		chat = relay.NewResilient(llm, retry.RelayConfig(cfg.Relay.MaxRetries))
	}

	repo, db, err := openLeadRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	notifiers := leads.NotifiersFromConfig(cfg)
	service := leads.NewService(repo, leads.WithNotifiers(notifiers...))
	log.Info().Int("notifiers", len(notifiers)).Msg("lead service ready")

	if db != nil && cfg.Sink.AsyncNotifications && len(notifiers) > 0 {
		queue, err := startNotificationQueue(ctx, cfg, service, c.Bool("dev-queue"))
		if err != nil {
			return err
		}
		service.SetQueue(queue)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("notification queue did not stop cleanly")
			}
		}()
	}

	fmt.Printf("Starting LeadChat API server on port %d...\n", cfg.Server.Port)
	server := api.NewServer(cfg.Server, chat, service)
	return server.Run(ctx)
}

// openLeadRepository uses Postgres when a database URL is configured and
// falls back to an in-memory repository otherwise.
func openLeadRepository(ctx context.Context, cfg *config.Config) (leads.Repository, *sql.DB, error) {
	url, err := database.ResolveURL(cfg.Sink.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("no database configured, leads are kept in memory")
		return leads.NewMemoryRepository(), nil, nil
	}

	db, err := database.NewDB(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	return leads.NewPostgresRepository(db), db, nil
}

func startNotificationQueue(ctx context.Context, cfg *config.Config, service *leads.Service, dev bool) (*jobqueue.JobQueue, error) {
	url, err := database.ResolveURL(cfg.Sink.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPool(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue pool: %w", err)
	}
	if err := jobqueue.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate queue tables: %w", err)
	}

	queueConfig := jobqueue.DefaultQueueConfig()
	if dev {
		queueConfig = jobqueue.DevelopmentQueueConfig()
	}
	queue, err := jobqueue.NewJobQueue(pool, service, queueConfig)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := queue.Start(ctx); err != nil {
		_ = queue.Stop(ctx)
		return nil, fmt.Errorf("failed to start notification queue: %w", err)
	}
	return queue, nil
}
