package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"

	"github.com/leadchat/internal/leads"
)

type fakeNotifier struct {
	err error
	ids []string
}

func (f *fakeNotifier) NotifyByID(_ context.Context, leadID string) error {
	f.ids = append(f.ids, leadID)
	return f.err
}

func job(leadID string, attempt int) *river.Job[LeadNotifyArgs] {
	return &river.Job[LeadNotifyArgs]{
		JobRow: &rivertype.JobRow{ID: 7, Attempt: attempt},
		Args:   LeadNotifyArgs{LeadID: leadID},
	}
}

func TestLeadNotifyArgs_Kind(t *testing.T) {
	assert.Equal(t, "lead_notify", LeadNotifyArgs{}.Kind())
}

func TestLeadNotifyWorker_Work(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErr    bool
		wantCancel bool
	}{
		{name: "success"},
		{name: "integration failure retries", err: errors.New("resend: 503"), wantErr: true},
		{name: "deleted lead cancels", err: leads.ErrNotFound, wantErr: true, wantCancel: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{err: tt.err}
			w := NewLeadNotifyWorker(n, DefaultQueueConfig())

			err := w.Work(context.Background(), job("lead_1", 1))
			assert.Equal(t, []string{"lead_1"}, n.ids)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			if tt.wantCancel {
				assert.NotEqual(t, tt.err, err, "not-found is wrapped in a cancellation")
			}
		})
	}
}

func TestLeadNotifyWorker_RetryAndTimeout(t *testing.T) {
	cfg := DefaultQueueConfig()
	w := NewLeadNotifyWorker(&fakeNotifier{}, cfg)

	assert.Equal(t, time.Minute, w.Timeout(job("lead_1", 1)))

	next := w.NextRetry(job("lead_1", 3))
	assert.WithinDuration(t, time.Now().Add(20*time.Second), next, 2*time.Second)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(10), "capped at MaxInterval")
}

func TestQueueConfig(t *testing.T) {
	cfg := DevelopmentQueueConfig()
	assert.Equal(t, 2, cfg.MaxWorkers)

	queues := cfg.RiverQueueConfig()
	assert.Equal(t, 2, queues[QueueNotifications].MaxWorkers)

	opts := cfg.InsertOpts()
	assert.Equal(t, QueueNotifications, opts.Queue)
	assert.Equal(t, 3, opts.MaxAttempts)
}
