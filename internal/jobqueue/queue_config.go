/*
Package jobqueue configuration - tunable parameters for the River job queue.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher notification throughput
- Lower MaxWorkers to reduce database connection usage

### Reliability Tuning:
- Increase MaxAttempts when an integration (Resend, Mailchimp, webhook) is flaky
- Adjust RetryPolicy intervals for the integrations' rate limits

## Database Requirements:
- PostgreSQL with River schema migrations applied (see Migrate)
- leads table created by database.EnsureSchema
*/
package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
)

// QueueNotifications is the River queue lead notification jobs run on.
const QueueNotifications = "lead_notifications"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers  int           // concurrent notification workers (default: 5)
	MaxAttempts int           // attempts per job before it is discarded (default: 10)
	RetryPolicy RetryPolicy   // backoff between attempts
	JobTimeout  time.Duration // maximum time one notification run may take (default: 1 minute)
}

// RetryPolicy defines how failed jobs are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 5 seconds

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 1 hour

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  5,
		MaxAttempts: 10,
		RetryPolicy: RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaxInterval:     1 * time.Hour,
			Multiplier:      2.0,
		},
		JobTimeout: 1 * time.Minute,
	}
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 2  // fewer connections
	config.MaxAttempts = 3 // fail faster
	config.RetryPolicy.InitialInterval = time.Second
	config.RetryPolicy.MaxInterval = time.Minute

	return config
}

// Backoff returns the wait before the given attempt (1-based) is retried.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	wait := float64(p.InitialInterval) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && wait > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(wait)
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueNotifications: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
