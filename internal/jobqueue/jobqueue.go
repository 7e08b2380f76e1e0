/*
Package jobqueue runs lead notifications in the background on River, so a
slow or failing integration never delays the capture response.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"

	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/logging"
)

// LeadNotifyArgs represents the arguments for a lead notification job
type LeadNotifyArgs struct {
	LeadID string `json:"lead_id"`
}

// Kind returns the job kind for River
func (LeadNotifyArgs) Kind() string {
	return "lead_notify"
}

// LeadNotifier sends every configured notification for a stored lead.
type LeadNotifier interface {
	NotifyByID(ctx context.Context, leadID string) error
}

// LeadNotifyWorker handles lead notification jobs
type LeadNotifyWorker struct {
	river.WorkerDefaults[LeadNotifyArgs]
	notifier LeadNotifier
	config   *QueueConfig
	logger   zerolog.Logger
}

func NewLeadNotifyWorker(notifier LeadNotifier, config *QueueConfig) *LeadNotifyWorker {
	return &LeadNotifyWorker{
		notifier: notifier,
		config:   config,
		logger:   logging.Component("jobqueue"),
	}
}

// Work implements river.Worker. A lead deleted before its job ran cancels
// the job instead of retrying it.
func (w *LeadNotifyWorker) Work(ctx context.Context, job *river.Job[LeadNotifyArgs]) error {
	logger := w.logger.With().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("lead_id", job.Args.LeadID).
		Logger()

	err := w.notifier.NotifyByID(ctx, job.Args.LeadID)
	switch {
	case err == nil:
		logger.Info().Msg("lead notifications sent")
		return nil
	case errors.Is(err, leads.ErrNotFound):
		logger.Warn().Msg("lead no longer exists, cancelling notification")
		return river.JobCancel(err)
	default:
		logger.Error().Err(err).Msg("lead notification attempt failed")
		return err
	}
}

func (w *LeadNotifyWorker) Timeout(*river.Job[LeadNotifyArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *LeadNotifyWorker) NextRetry(job *river.Job[LeadNotifyArgs]) time.Time {
	return time.Now().Add(w.config.RetryPolicy.Backoff(job.Attempt))
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	return nil
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(pool *pgxpool.Pool, notifier LeadNotifier, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewLeadNotifyWorker(notifier, config))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	defer jq.pool.Close()
	return jq.client.Stop(ctx)
}

// InsertOpts places a notification job on the notifications queue.
func (c *QueueConfig) InsertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       QueueNotifications,
		MaxAttempts: c.MaxAttempts,
	}
}

// EnqueueLeadNotification implements leads.NotificationQueue.
func (jq *JobQueue) EnqueueLeadNotification(ctx context.Context, leadID string) error {
	if _, err := jq.client.Insert(ctx, LeadNotifyArgs{LeadID: leadID}, jq.config.InsertOpts()); err != nil {
		return fmt.Errorf("failed to queue lead notification job: %w", err)
	}
	return nil
}
