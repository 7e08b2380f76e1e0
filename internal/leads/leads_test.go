package leads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadchat/internal/capture"
	"github.com/leadchat/pkg/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	name  string
	err   error
	leads []models.Lead
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, lead models.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads = append(r.leads, lead)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leads)
}

type fakeQueue struct {
	ids []string
	err error
}

func (q *fakeQueue) EnqueueLeadNotification(_ context.Context, leadID string) error {
	q.ids = append(q.ids, leadID)
	return q.err
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sampleLead(id, email string) models.Lead {
	return models.Lead{
		ID:                   id,
		Email:                email,
		Name:                 "Ada",
		Score:                65,
		Status:               models.StatusLead,
		Source:               "https://example.com/pricing",
		Interests:            []string{"pricing"},
		ConversationMessages: 3,
	}
}

func TestService_CaptureStoresAndNotifies(t *testing.T) {
	repo := NewMemoryRepository()
	n := &recordingNotifier{name: "rec"}
	svc := NewService(repo, WithNotifiers(n), WithClock(fixedClock))

	stored, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.7", stored.IPAddress)
	require.NotNil(t, stored.CapturedAt)
	assert.True(t, stored.CapturedAt.Equal(fixedNow))
	assert.True(t, stored.Captured)
	assert.Equal(t, 1, n.count())

	got, err := svc.Get(context.Background(), "lead_1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
}

func TestService_CaptureRecordsExchange(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(capture.EnvCaptureDir, dir)
	svc := NewService(NewMemoryRepository(), WithClock(fixedClock))

	_, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "203.0.113.7")
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "sink", "*", "lead-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var got struct {
		Lead     models.Lead `json:"lead"`
		ClientIP string      `json:"client_ip"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ada@example.com", got.Lead.Email)
	assert.Equal(t, "203.0.113.7", got.ClientIP)
}

func TestService_CaptureRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepository())

	tests := []struct {
		name string
		lead models.Lead
	}{
		{"missing id", sampleLead("", "ada@example.com")},
		{"missing email", sampleLead("lead_1", "")},
		{"malformed email", sampleLead("lead_1", "not-an-email")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Capture(context.Background(), tt.lead, "")
			assert.ErrorIs(t, err, ErrInvalidLead)
		})
	}
}

func TestService_CaptureSanitizes(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	lead := sampleLead("lead_1", " ada@example.com ")
	lead.Name = "<b>Ada</b>   Lovelace"
	lead.Source = "javascript:alert(1)"
	lead.Status = "bogus"
	lead.Score = -4

	stored, err := svc.Capture(context.Background(), lead, "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)
	assert.Equal(t, "Ada Lovelace", stored.Name)
	assert.Empty(t, stored.Source)
	assert.Equal(t, models.StatusLead, stored.Status)
	assert.Zero(t, stored.Score)
}

func TestService_RecaptureKeepsFirstCapturedAt(t *testing.T) {
	repo := NewMemoryRepository()
	now := fixedNow
	svc := NewService(repo, WithClock(func() time.Time { return now }))

	_, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	second := sampleLead("lead_1", "ada@work.example.com")
	second.Score = 90
	stored, err := svc.Capture(context.Background(), second, "")
	require.NoError(t, err)

	assert.True(t, stored.CapturedAt.Equal(fixedNow))
	assert.Equal(t, "ada@work.example.com", stored.Email)
	assert.Equal(t, 90, stored.Score)
}

func TestService_QueuedNotifications(t *testing.T) {
	n := &recordingNotifier{name: "rec"}
	q := &fakeQueue{}
	svc := NewService(NewMemoryRepository(), WithNotifiers(n), WithQueue(q))

	_, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead_1"}, q.ids)
	assert.Zero(t, n.count(), "queued notifications are not sent inline")

	require.NoError(t, svc.NotifyByID(context.Background(), "lead_1"))
	assert.Equal(t, 1, n.count())
}

func TestService_QueueFailureFallsBackInline(t *testing.T) {
	n := &recordingNotifier{name: "rec"}
	svc := NewService(NewMemoryRepository(), WithNotifiers(n), WithQueue(&fakeQueue{err: errors.New("queue down")}))

	_, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n.count())
}

func TestService_NotifierFailureDoesNotFailCapture(t *testing.T) {
	failing := &recordingNotifier{name: "broken", err: errors.New("smtp down")}
	ok := &recordingNotifier{name: "ok"}
	svc := NewService(NewMemoryRepository(), WithNotifiers(failing, ok))

	_, err := svc.Capture(context.Background(), sampleLead("lead_1", "ada@example.com"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, ok.count(), "later notifiers still run")

	err = svc.NotifyByID(context.Background(), "lead_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestService_ListStatusDelete(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	svc := NewService(NewMemoryRepository(), WithClock(func() time.Time { return now }))

	for _, l := range []models.Lead{
		sampleLead("lead_a", "alpha@example.com"),
		sampleLead("lead_b", "bravo@example.com"),
		sampleLead("lead_c", "charlie@example.com"),
	} {
		_, err := svc.Capture(ctx, l, "")
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}

	page, err := svc.List(ctx, ListFilter{PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Leads, 2)
	assert.Equal(t, "lead_c", page.Leads[0].ID, "newest first")

	require.NoError(t, svc.UpdateStatus(ctx, "lead_b", models.StatusQualified))
	qualified, err := svc.List(ctx, ListFilter{Status: models.StatusQualified})
	require.NoError(t, err)
	require.Len(t, qualified.Leads, 1)
	assert.Equal(t, "lead_b", qualified.Leads[0].ID)

	search, err := svc.List(ctx, ListFilter{Search: "ALPHA"})
	require.NoError(t, err)
	require.Len(t, search.Leads, 1)
	assert.Equal(t, "lead_a", search.Leads[0].ID)

	assert.ErrorIs(t, svc.UpdateStatus(ctx, "lead_b", "archived"), ErrInvalidLead)
	assert.ErrorIs(t, svc.UpdateStatus(ctx, "lead_zzz", models.StatusLost), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "lead_a"))
	assert.ErrorIs(t, svc.Delete(ctx, "lead_a"), ErrNotFound)
	_, err = svc.Get(ctx, "lead_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilter_Normalized(t *testing.T) {
	f := ListFilter{Page: -1, PerPage: 500}.normalized()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, maxPerPage, f.PerPage)
	assert.Equal(t, defaultPerPage, ListFilter{}.normalized().PerPage)
	assert.Equal(t, 40, ListFilter{Page: 3, PerPage: 20}.offset())
}

func TestEmailNotifier(t *testing.T) {
	var sent *resend.SendEmailRequest
	e := newEmailNotifier(func(req *resend.SendEmailRequest) error {
		sent = req
		return nil
	}, "leads@example.com", "owner@example.com", "Acme")

	lead := sampleLead("lead_1", "ada@example.com")
	lead.Name = ""
	lead.CapturedAt = &fixedNow
	require.NoError(t, e.Notify(context.Background(), lead))

	require.NotNil(t, sent)
	assert.Equal(t, "New Lead Captured - Acme", sent.Subject)
	assert.Equal(t, []string{"owner@example.com"}, sent.To)
	assert.Contains(t, sent.Html, "ada@example.com")
	assert.Contains(t, sent.Html, "Not provided")
	assert.Contains(t, sent.Html, "<strong>Lead Score:</strong> 65")

	failing := newEmailNotifier(func(*resend.SendEmailRequest) error { return errors.New("rejected") }, "a@b.co", "c@d.co", "Acme")
	assert.Error(t, failing.Notify(context.Background(), lead))
}

func TestMailchimpNotifier(t *testing.T) {
	var (
		gotPath string
		gotUser string
		gotKey  string
		body    mailchimpMember
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotKey, _ = r.BasicAuth()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	m := newMailchimpNotifier(srv.URL+"/3.0", "key-us21", "list42")
	require.NoError(t, m.Notify(context.Background(), sampleLead("lead_1", "ada@example.com")))

	assert.Equal(t, "/3.0/lists/list42/members", gotPath)
	assert.Equal(t, "user", gotUser)
	assert.Equal(t, "key-us21", gotKey)
	assert.Equal(t, "ada@example.com", body.EmailAddress)
	assert.Equal(t, "subscribed", body.Status)
	assert.Equal(t, "Ada", body.MergeFields["FNAME"])
	assert.Equal(t, []string{MailchimpTag}, body.Tags)
}

func TestMailchimpNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"title":"Member Exists"}`))
	}))
	defer srv.Close()

	m := newMailchimpNotifier(srv.URL, "key-us21", "list42")
	err := m.Notify(context.Background(), sampleLead("lead_1", "ada@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestWebhookNotifier(t *testing.T) {
	var got models.Lead
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Notify(context.Background(), sampleLead("lead_1", "ada@example.com")))
	assert.Equal(t, "lead_1", got.ID)
	assert.Equal(t, []string{"pricing"}, got.Interests)
}

func TestHTTPSink(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"success", http.StatusOK, `{"success":true,"lead_id":"lead_1"}`, false},
		{"rejected", http.StatusBadRequest, `{"success":false,"error":"Missing required lead data"}`, true},
		{"success false", http.StatusOK, `{"success":false}`, true},
		{"malformed", http.StatusOK, `<html>`, true},
		{"server error", http.StatusInternalServerError, `{"success":false,"error":"Failed to save lead"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, CapturePath, r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTPSink(srv.URL, time.Second).Submit(context.Background(), sampleLead("lead_1", "ada@example.com"))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSinkFailed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
