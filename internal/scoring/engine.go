// Package scoring accumulates a visitor engagement score from behavioral
// events and decides when the capture prompt should be shown.
//
// The engine mutates the lead it was built over and performs no I/O; the
// caller persists the lead and renders prompts.
package scoring

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadchat/internal/config"
	"github.com/leadchat/pkg/models"
)

// Scoring reasons. Interest events use InterestReason.
const (
	ReasonPageScroll       = "page_scroll"
	ReasonDwellShort       = "time_spent_30s"
	ReasonDwellLong        = "time_spent_60s"
	ReasonReturnVisitor    = "return_visitor"
	ReasonSentMessage      = "sent_message"
	ReasonReceivedResponse = "received_response"
	ReasonEmailCaptured    = "email_captured"
)

// MessageThreshold is the number of sent messages that triggers a prompt on
// its own.
const MessageThreshold = 3

// InvalidEmailMessage is shown inline when a submission is rejected.
const InvalidEmailMessage = "Please enter a valid email address"

var ErrInvalidEmail = errors.New("invalid email address")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s has the local@domain.tld shape.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// InterestReason is the scoring reason of a topic match.
func InterestReason(topic string) string {
	return "interest_" + topic
}

type Weights struct {
	PageScroll       int
	DwellShort       int
	DwellLong        int
	ReturnVisitor    int
	SentMessage      int
	ReceivedResponse int
	Interest         int
	EmailCaptured    int
}

type Options struct {
	Threshold       int
	MaxAttempts     int
	ScrollThreshold int
	CaptureEnabled  bool
	// SkipCooldown is the minimum time between a skip and the next prompt.
	// Zero disables it.
	SkipCooldown   time.Duration
	Weights        Weights
	Topics         []Topic
	BuyingKeywords []string
	Now            func() time.Time
}

// DefaultOptions mirrors the default widget configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultWidget())
}

// OptionsFromConfig builds engine options from the widget section.
func OptionsFromConfig(w config.Widget) Options {
	w.Normalize()
	return Options{
		Threshold:       w.LeadScoreThreshold,
		MaxAttempts:     w.MaxCaptureAttempts,
		ScrollThreshold: w.ScrollThreshold,
		CaptureEnabled:  w.CaptureEnabled,
		SkipCooldown:    w.SkipCooldown,
		Weights: Weights{
			PageScroll:       w.Points.PageScroll,
			DwellShort:       w.Points.DwellShort,
			DwellLong:        w.Points.DwellLong,
			ReturnVisitor:    w.Points.ReturnVisitor,
			SentMessage:      w.Points.SentMessage,
			ReceivedResponse: w.Points.ReceivedResponse,
			Interest:         w.Points.Interest,
			EmailCaptured:    w.Points.EmailCaptured,
		},
		Topics:         DefaultTopics,
		BuyingKeywords: DefaultBuyingKeywords,
		Now:            time.Now,
	}
}

// Result describes one scoring event.
type Result struct {
	Reason string
	Points int
	Total  int
	// Awarded is false when the event did not qualify (already fired,
	// below threshold).
	Awarded bool
	// Prompt is true when this event triggered a new capture prompt.
	Prompt bool
}

// Contact is the data submitted through the capture form.
type Contact struct {
	Email string
	Name  string
	Phone string
}

type Engine struct {
	opts          Options
	lead          *models.Lead
	promptVisible bool
	logger        zerolog.Logger
}

// NewEngine returns an engine scoring lead in place.
func NewEngine(lead *models.Lead, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Topics == nil {
		opts.Topics = DefaultTopics
	}
	if opts.BuyingKeywords == nil {
		opts.BuyingKeywords = DefaultBuyingKeywords
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 30
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Engine{
		opts:   opts,
		lead:   lead,
		logger: log.With().Str("component", "scoring").Str("lead_id", lead.ID).Logger(),
	}
}

// Lead returns a copy of the scored lead.
func (e *Engine) Lead() models.Lead { return e.lead.Clone() }

// PromptVisible reports whether a capture prompt is currently shown.
func (e *Engine) PromptVisible() bool { return e.promptVisible }

func (e *Engine) award(reason string, points int, transcript []models.Message) Result {
	e.lead.Score += points
	e.lead.LastActivity = e.opts.Now()

	e.logger.Debug().
		Str("reason", reason).
		Int("points", points).
		Int("total", e.lead.Score).
		Msg("lead score updated")

	return Result{
		Reason:  reason,
		Points:  points,
		Total:   e.lead.Score,
		Awarded: true,
		Prompt:  e.Evaluate(transcript),
	}
}

func (e *Engine) once(reason string, points int, transcript []models.Message) Result {
	if !e.lead.AddMilestone(reason) {
		return Result{Reason: reason, Total: e.lead.Score}
	}
	return e.award(reason, points, transcript)
}

// PageScrolled awards the scroll event once, when depth passes the threshold.
func (e *Engine) PageScrolled(depth int, transcript []models.Message) Result {
	if depth <= e.opts.ScrollThreshold {
		return Result{Reason: ReasonPageScroll, Total: e.lead.Score}
	}
	return e.once(ReasonPageScroll, e.opts.Weights.PageScroll, transcript)
}

// DwellShort awards the first dwell-time mark once.
func (e *Engine) DwellShort(transcript []models.Message) Result {
	return e.once(ReasonDwellShort, e.opts.Weights.DwellShort, transcript)
}

// DwellLong awards the second dwell-time mark once.
func (e *Engine) DwellLong(transcript []models.Message) Result {
	return e.once(ReasonDwellLong, e.opts.Weights.DwellLong, transcript)
}

// ReturnVisit awards a returning visitor. The caller decides once per load.
func (e *Engine) ReturnVisit(transcript []models.Message) Result {
	return e.award(ReasonReturnVisitor, e.opts.Weights.ReturnVisitor, transcript)
}

// MessageSent counts an outgoing user message and scores it.
func (e *Engine) MessageSent(transcript []models.Message) Result {
	e.lead.ConversationMessages++
	return e.award(ReasonSentMessage, e.opts.Weights.SentMessage, transcript)
}

// ScanInterests records every topic of content not yet known and scores
// each new one.
func (e *Engine) ScanInterests(content string, transcript []models.Message) []Result {
	var results []Result
	for _, topic := range MatchTopics(e.opts.Topics, content) {
		if !e.lead.AddInterest(topic) {
			continue
		}
		results = append(results, e.award(InterestReason(topic), e.opts.Weights.Interest, transcript))
	}
	return results
}

// ResponseReceived scores an assistant reply.
func (e *Engine) ResponseReceived(transcript []models.Message) Result {
	return e.award(ReasonReceivedResponse, e.opts.Weights.ReceivedResponse, transcript)
}

// Evaluate decides whether a capture prompt should be shown now. A positive
// decision consumes one capture attempt and marks the prompt visible.
func (e *Engine) Evaluate(transcript []models.Message) bool {
	if !e.opts.CaptureEnabled || e.promptVisible {
		return false
	}
	if e.lead.Captured || e.lead.CaptureAttempts >= e.opts.MaxAttempts {
		return false
	}
	if e.opts.SkipCooldown > 0 && e.lead.LastSkip != nil &&
		e.opts.Now().Sub(*e.lead.LastSkip) < e.opts.SkipCooldown {
		return false
	}

	trigger := e.lead.Score >= e.opts.Threshold ||
		e.lead.ConversationMessages >= MessageThreshold ||
		HasBuyingIntent(e.opts.BuyingKeywords, transcript)
	if !trigger {
		return false
	}

	e.lead.CaptureAttempts++
	e.promptVisible = true
	e.logger.Info().
		Int("score", e.lead.Score).
		Int("attempt", e.lead.CaptureAttempts).
		Msg("capture prompt triggered")
	return true
}

// NormalizeContact trims the submitted fields and validates the email.
func NormalizeContact(c Contact) (Contact, error) {
	c.Email = strings.TrimSpace(c.Email)
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Email == "" || !ValidEmail(c.Email) {
		return c, ErrInvalidEmail
	}
	return c, nil
}

// ApplyCapture records a valid submission: contact fields, status lead and
// captured. An invalid email returns ErrInvalidEmail and changes nothing.
func (e *Engine) ApplyCapture(c Contact) error {
	c, err := NormalizeContact(c)
	if err != nil {
		return err
	}
	e.lead.Email = c.Email
	e.lead.Name = c.Name
	e.lead.Phone = c.Phone
	e.lead.Status = models.StatusLead
	e.lead.Captured = true
	e.lead.LastActivity = e.opts.Now()
	return nil
}

// CaptureSucceeded awards the one-time capture bonus and hides the prompt.
func (e *Engine) CaptureSucceeded(transcript []models.Message) Result {
	e.promptVisible = false
	return e.once(ReasonEmailCaptured, e.opts.Weights.EmailCaptured, transcript)
}

// Skip hides the prompt and records when it was skipped.
func (e *Engine) Skip() {
	now := e.opts.Now()
	e.promptVisible = false
	e.lead.LastSkip = &now
}

// DismissPrompt hides the prompt without recording a skip.
func (e *Engine) DismissPrompt() {
	e.promptVisible = false
}
