package leads

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/resendlabs/resend-go"

	"github.com/leadchat/internal/config"
	"github.com/leadchat/pkg/models"
)

// Notifier forwards a stored lead to one integration.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, lead models.Lead) error
}

// NotifiersFromConfig builds every integration the sink section enables.
func NotifiersFromConfig(cfg *config.Config) []Notifier {
	var notifiers []Notifier
	sink := cfg.Sink
	if sink.ResendAPIKey != "" && sink.AdminEmail != "" {
		notifiers = append(notifiers, NewEmailNotifier(sink.ResendAPIKey, sink.EmailFrom, sink.AdminEmail, cfg.General.BrandName))
	}
	if sink.MailchimpAPIKey != "" && sink.MailchimpListID != "" {
		notifiers = append(notifiers, NewMailchimpNotifier(sink.MailchimpAPIKey, sink.MailchimpListID))
	}
	if sink.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(sink.WebhookURL))
	}
	return notifiers
}

// EmailNotifier emails the site owner about each new lead through Resend.
type EmailNotifier struct {
	send  func(*resend.SendEmailRequest) error
	from  string
	to    string
	brand string
}

func NewEmailNotifier(apiKey, from, to, brand string) *EmailNotifier {
	client := resend.NewClient(apiKey)
	return newEmailNotifier(func(req *resend.SendEmailRequest) error {
		_, err := client.Emails.Send(req)
		return err
	}, from, to, brand)
}

func newEmailNotifier(send func(*resend.SendEmailRequest) error, from, to, brand string) *EmailNotifier {
	return &EmailNotifier{send: send, from: from, to: to, brand: brand}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(_ context.Context, lead models.Lead) error {
	req := &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{e.to},
		Subject: "New Lead Captured - " + e.brand,
		Html:    leadEmailHTML(lead),
	}
	if err := e.send(req); err != nil {
		return fmt.Errorf("failed to send lead email via Resend: %w", err)
	}
	return nil
}

func leadEmailHTML(lead models.Lead) string {
	name := lead.Name
	if name == "" {
		name = "Not provided"
	}
	captured := ""
	if lead.CapturedAt != nil {
		captured = lead.CapturedAt.Format(time.RFC1123)
	}

	var b strings.Builder
	b.WriteString("<h2>New Lead Captured!</h2>\n")
	b.WriteString("<p>A new lead has been captured through your chat widget.</p>\n")
	b.WriteString("<h3>Lead Details:</h3>\n<ul>\n")
	item := func(label, value string) {
		fmt.Fprintf(&b, "<li><strong>%s:</strong> %s</li>\n", label, html.EscapeString(value))
	}
	item("Email", lead.Email)
	item("Name", name)
	item("Lead Score", fmt.Sprint(lead.Score))
	item("Status", string(lead.Status))
	item("Source", lead.Source)
	item("Interests", strings.Join(lead.Interests, ", "))
	item("Messages Exchanged", fmt.Sprint(lead.ConversationMessages))
	item("Captured", captured)
	b.WriteString("</ul>\n")
	return b.String()
}

// MailchimpTag marks list members added by the widget.
const MailchimpTag = "leadchat-lead"

// MailchimpNotifier subscribes the lead to an audience list.
type MailchimpNotifier struct {
	client *resty.Client
	apiKey string
	listID string
}

// NewMailchimpNotifier derives the API host from the key's datacenter
// suffix (abc123-us21 -> us21.api.mailchimp.com).
func NewMailchimpNotifier(apiKey, listID string) *MailchimpNotifier {
	dc := apiKey[strings.LastIndex(apiKey, "-")+1:]
	return newMailchimpNotifier(fmt.Sprintf("https://%s.api.mailchimp.com/3.0", dc), apiKey, listID)
}

func newMailchimpNotifier(baseURL, apiKey, listID string) *MailchimpNotifier {
	return &MailchimpNotifier{
		client: resty.New().
			SetBaseURL(baseURL).
			SetBasicAuth("user", apiKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(15 * time.Second),
		apiKey: apiKey,
		listID: listID,
	}
}

func (m *MailchimpNotifier) Name() string { return "mailchimp" }

type mailchimpMember struct {
	EmailAddress string            `json:"email_address"`
	Status       string            `json:"status"`
	MergeFields  map[string]string `json:"merge_fields"`
	Tags         []string          `json:"tags"`
}

func (m *MailchimpNotifier) Notify(ctx context.Context, lead models.Lead) error {
	body := mailchimpMember{
		EmailAddress: lead.Email,
		Status:       "subscribed",
		MergeFields: map[string]string{
			"FNAME": lead.Name,
			"LNAME": "",
			"PHONE": lead.Phone,
		},
		Tags: []string{MailchimpTag},
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetPathParam("list", m.listID).
		Post("/lists/{list}/members")
	if err != nil {
		return fmt.Errorf("mailchimp request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mailchimp status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// WebhookNotifier POSTs the lead as JSON to a user-configured URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(15 * time.Second),
		url: url,
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, lead models.Lead) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(&lead).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook status %d", resp.StatusCode())
	}
	return nil
}
