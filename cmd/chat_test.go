package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadchat/internal/config"
	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/relay"
	"github.com/leadchat/internal/scoring"
	"github.com/leadchat/internal/storage"
	"github.com/leadchat/internal/widget"
	"github.com/leadchat/pkg/models"
)

type chatHarness struct {
	session *chatSession
	out     *bytes.Buffer
	ctrl    *widget.Controller
	leads   []models.Lead
}

func newChatHarness(t *testing.T) *chatHarness {
	t.Helper()
	h := &chatHarness{out: &bytes.Buffer{}}
	presenter := newTerminalPresenter(h.out)

	w := config.DefaultWidget()
	w.SuccessDismiss = time.Hour
	w.ErrorDismiss = time.Hour

	ctrl, err := widget.New(widget.Deps{
		Store: storage.NewAdapter(storage.NewMemoryStore()),
		Relay: relay.Func(func(_ context.Context, req relay.Request) (string, error) {
			last := req.Messages[len(req.Messages)-1]
			return "echo: " + last.Content, nil
		}),
		Sink: leads.SinkFunc(func(_ context.Context, lead models.Lead) error {
			h.leads = append(h.leads, lead)
			return nil
		}),
		Presenter: presenter,
	}, widget.Options{
		Widget:    w,
		Page:      widget.Page{URL: "https://example.com/", Title: "Home"},
		NewLeadID: func() string { return "lead_cli" },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	h.ctrl = ctrl
	h.session = &chatSession{ctrl: ctrl, p: presenter}
	return h
}

func (h *chatHarness) run(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	assert.False(t, h.session.handle(context.Background(), line))
	return h.out.String()
}

func TestChatSession_SendsMessages(t *testing.T) {
	h := newChatHarness(t)

	out := h.run(t, "hello there")
	assert.Contains(t, out, "you: hello there")
	assert.Contains(t, out, "assistant: echo: hello there")
	assert.Contains(t, out, "[score 10: +10 sent_message]")
	assert.Len(t, h.ctrl.Messages(), 2)
}

func TestChatSession_Commands(t *testing.T) {
	h := newChatHarness(t)

	assert.Contains(t, h.run(t, "/help"), "/capture <email> [name]")
	assert.Contains(t, h.run(t, "/history"), "No saved conversations.")

	h.run(t, "what does it cost?")
	h.run(t, "/new")
	out := h.run(t, "/history")
	assert.Contains(t, out, "1. what does it cost?")

	out = h.run(t, "/load 1")
	assert.Contains(t, out, "-- conversation restored --")
	assert.Len(t, h.ctrl.Messages(), 2)

	out = h.run(t, "/delete 1")
	assert.Contains(t, out, "-- new conversation --")
	assert.Empty(t, h.ctrl.History())

	assert.Contains(t, h.run(t, "/load"), "usage: /load <n|id>")
	assert.Contains(t, h.run(t, "/load nope"), "error:")
	assert.Contains(t, h.run(t, "/bogus"), "unknown command /bogus")
	assert.Contains(t, h.run(t, "/dark"), "[dark mode: true, sound: true]")
	assert.True(t, h.ctrl.State().DarkMode)

	assert.True(t, h.session.handle(context.Background(), "/quit"))
}

func TestChatSession_ScrollAndLead(t *testing.T) {
	h := newChatHarness(t)

	assert.Contains(t, h.run(t, "/scroll 120"), "page_scroll")
	assert.Contains(t, h.run(t, "/scroll lots"), "usage: /scroll <pixels>")

	out := h.run(t, "/lead")
	assert.Contains(t, out, "id:        lead_cli")
	assert.Contains(t, out, "score:     5")
	assert.Contains(t, out, "status:    visitor")
}

func TestChatSession_Capture(t *testing.T) {
	h := newChatHarness(t)

	out := h.run(t, "/capture not-an-email")
	assert.Contains(t, out, scoring.InvalidEmailMessage)
	assert.Empty(t, h.leads)

	out = h.run(t, "/capture ada@example.com Ada Lovelace")
	assert.Contains(t, out, widget.CaptureThanks)
	require.Len(t, h.leads, 1)
	assert.Equal(t, "ada@example.com", h.leads[0].Email)
	assert.Equal(t, "Ada Lovelace", h.leads[0].Name)

	out = h.run(t, "/lead")
	assert.Contains(t, out, "contact:   ada@example.com Ada Lovelace")
}

func TestConfigCheck(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	result := CheckRequiredConfig(cfg)
	assert.Equal(t, []string{"relay.api_key"}, result.Missing)
	assert.NotEmpty(t, result.Warnings)

	cfg.Relay.APIKey = "sk-1234567890"
	cfg.Sink.MailchimpAPIKey = "abcdef123456-us21"
	result = CheckRequiredConfig(cfg)
	assert.Equal(t, []string{"sink.mailchimp_list_id"}, result.Missing)
	assert.Equal(t, "sk****90", result.Present["relay.api_key"])

	var out bytes.Buffer
	PrintConfigCheck(&out, result)
	assert.Contains(t, out.String(), "sink.mailchimp_list_id")
	assert.Contains(t, out.String(), "Relay: in-process model")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "ab****yz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"# comment",
		"export LEADCHAT_TEST_A=\"quoted value\"",
		"LEADCHAT_TEST_B='single'",
		"not a pair",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LEADCHAT_TEST_A", "")
	t.Setenv("LEADCHAT_TEST_B", "")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "quoted value", os.Getenv("LEADCHAT_TEST_A"))
	assert.Equal(t, "single", os.Getenv("LEADCHAT_TEST_B"))
}
