// Package leads stores captured leads and routes them to notification
// integrations. It provides the Sink the widget submits to, both as an
// HTTP client and as the server-side Service behind it.
package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadchat/internal/capture"
	"github.com/leadchat/internal/scoring"
	"github.com/leadchat/pkg/models"
)

var (
	ErrInvalidLead = errors.New("invalid lead")
	ErrNotFound    = errors.New("lead not found")
	ErrSinkFailed  = errors.New("lead sink failed")
)

// Sink accepts a lead record for storage and notification.
type Sink interface {
	Submit(ctx context.Context, lead models.Lead) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, lead models.Lead) error

func (f SinkFunc) Submit(ctx context.Context, lead models.Lead) error { return f(ctx, lead) }

// NotificationQueue defers notifications to a background worker.
type NotificationQueue interface {
	EnqueueLeadNotification(ctx context.Context, leadID string) error
}

// Service validates, stores and notifies captured leads.
type Service struct {
	repo      Repository
	notifiers []Notifier
	queue     NotificationQueue
	now       func() time.Time
	logger    zerolog.Logger
}

type ServiceOption func(*Service)

// WithNotifiers registers the integrations run after a lead is stored.
func WithNotifiers(n ...Notifier) ServiceOption {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// WithQueue makes notifications asynchronous.
func WithQueue(q NotificationQueue) ServiceOption {
	return func(s *Service) { s.queue = q }
}

// WithClock sets the time source for captured_at/updated_at.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		logger: log.With().Str("component", "leads").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetQueue attaches a notification queue after construction, for wiring
// where the queue itself depends on the service.
func (s *Service) SetQueue(q NotificationQueue) { s.queue = q }

// Validate checks the fields a capture cannot be stored without.
func Validate(lead models.Lead) error {
	if lead.ID == "" || lead.Email == "" {
		return fmt.Errorf("%w: missing required lead data", ErrInvalidLead)
	}
	if !scoring.ValidEmail(lead.Email) {
		return fmt.Errorf("%w: malformed email %q", ErrInvalidLead, lead.Email)
	}
	return nil
}

// Capture sanitizes and upserts a submitted lead, stamping the client IP
// and capture time, then triggers notifications. Notification failures are
// logged and never fail the capture.
func (s *Service) Capture(ctx context.Context, lead models.Lead, clientIP string) (models.Lead, error) {
	lead = Sanitize(lead)
	if err := Validate(lead); err != nil {
		return models.Lead{}, err
	}

	now := s.now()
	lead.IPAddress = clientIP
	lead.CapturedAt = &now
	lead.UpdatedAt = &now
	lead.Captured = true

	stored, err := s.repo.Upsert(ctx, lead)
	if err != nil {
		s.logger.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to save lead")
		return models.Lead{}, fmt.Errorf("save lead: %w", err)
	}

	s.logger.Info().
		Str("lead_id", stored.ID).
		Int("score", stored.Score).
		Strs("interests", stored.Interests).
		Msg("lead captured")
	capture.WriteJSON("sink", "lead", map[string]interface{}{
		"lead":      stored,
		"client_ip": clientIP,
	})

	if s.queue != nil {
		if err := s.queue.EnqueueLeadNotification(ctx, stored.ID); err != nil {
			s.logger.Error().Err(err).Str("lead_id", stored.ID).Msg("failed to enqueue notification, sending inline")
			_ = s.Notify(ctx, stored)
		}
	} else {
		_ = s.Notify(ctx, stored)
	}
	return stored, nil
}

// Submit implements Sink for in-process use.
func (s *Service) Submit(ctx context.Context, lead models.Lead) error {
	_, err := s.Capture(ctx, lead, "")
	return err
}

// Notify runs every notifier and joins their errors.
func (s *Service) Notify(ctx context.Context, lead models.Lead) error {
	var errs []error
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, lead); err != nil {
			s.logger.Error().Err(err).Str("notifier", n.Name()).Str("lead_id", lead.ID).Msg("lead notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		s.logger.Debug().Str("notifier", n.Name()).Str("lead_id", lead.ID).Msg("lead notification sent")
	}
	return errors.Join(errs...)
}

// NotifyByID loads a stored lead and notifies it.
func (s *Service) NotifyByID(ctx context.Context, leadID string) error {
	lead, err := s.repo.Get(ctx, leadID)
	if err != nil {
		return err
	}
	return s.Notify(ctx, lead)
}

// Get returns a stored lead.
func (s *Service) Get(ctx context.Context, leadID string) (models.Lead, error) {
	return s.repo.Get(ctx, leadID)
}

// List returns a page of stored leads.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	filter = filter.normalized()
	filter.Search = sanitizeText(filter.Search)
	leads, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return newListResult(leads, total, filter), nil
}

// UpdateStatus sets the management status of a lead.
func (s *Service) UpdateStatus(ctx context.Context, leadID string, status models.LeadStatus) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidLead, status)
	}
	return s.repo.UpdateStatus(ctx, leadID, status, s.now())
}

// Delete removes a lead.
func (s *Service) Delete(ctx context.Context, leadID string) error {
	return s.repo.Delete(ctx, leadID)
}
