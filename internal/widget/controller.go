// Package widget coordinates the chat widget: it owns the conversation
// store, the scored lead and the presentation state, calls the chat relay
// and lead sink, and reports every visible change to a Presenter.
package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/leadchat/internal/config"
	"github.com/leadchat/internal/conversation"
	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/logging"
	"github.com/leadchat/internal/relay"
	"github.com/leadchat/internal/scoring"
	"github.com/leadchat/internal/storage"
	"github.com/leadchat/pkg/models"
)

// User-facing texts.
const (
	ApologyMessage   = "Sorry, I encountered an error. Please try again."
	SinkErrorMessage = "Sorry, there was an error. Please try again."
	CaptureThanks    = "Thank You! We'll be in touch soon with personalized assistance."
)

// InteractionPageView is logged on the lead every time the widget loads.
const InteractionPageView = "page_view"

// RecentLimit is how many conversations the history panel lists.
const RecentLimit = 5

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrMissingDeps  = errors.New("widget: missing dependency")
)

// Deps are the collaborators the controller drives.
type Deps struct {
	Store     *storage.Adapter
	Relay     relay.ChatRelay
	Sink      leads.Sink
	Presenter Presenter
}

// Page describes the page the widget is embedded in.
type Page struct {
	URL   string
	Title string
}

type Options struct {
	Widget    config.Widget
	Page      Page
	Device    models.Device
	Now       func() time.Time
	NewLeadID func() string
}

// NewLeadID returns a fresh visitor id.
func NewLeadID() string {
	return "lead_" + ulid.Make().String()
}

// State is a snapshot of the presentation state.
type State struct {
	Open           bool
	View           View
	DarkMode       bool
	SoundEnabled   bool
	PromptVisible  bool
	Score          int
	ConversationID string
}

// Controller is the single owner of the widget state. Every mutation runs
// under mu; sends and capture submissions are additionally serialized so a
// second call queues behind the one in flight.
type Controller struct {
	mu        sync.Mutex
	sendMu    sync.Mutex
	submitMu  sync.Mutex
	presentMu sync.Mutex

	deps   Deps
	opts   Options
	store  *conversation.Store
	engine *scoring.Engine
	lead   models.Lead
	sched  *Scheduler

	open         bool
	view         View
	darkMode     bool
	soundEnabled bool
	returning    bool

	pending []Update
	logger  zerolog.Logger
}

// New restores persisted state and records the page view. It does not start
// any timers; call Start for that.
func New(deps Deps, opts Options) (*Controller, error) {
	if deps.Store == nil || deps.Relay == nil || deps.Sink == nil {
		return nil, ErrMissingDeps
	}
	if deps.Presenter == nil {
		deps.Presenter = discardPresenter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewLeadID == nil {
		opts.NewLeadID = NewLeadID
	}
	opts.Widget.Normalize()

	c := &Controller{
		deps:   deps,
		opts:   opts,
		sched:  NewScheduler(),
		view:   ViewChat,
		logger: logging.Component("widget"),
	}

	c.do(func() {
		c.darkMode = deps.Store.LoadDarkMode(opts.Widget.DarkModeDefault)
		c.soundEnabled = deps.Store.LoadSoundEnabled()
		c.emit(c.preferences())

		c.store = conversation.NewStore(deps.Store.LoadHistory(), deps.Store,
			conversation.WithLimit(opts.Widget.HistoryLimit),
			conversation.WithClock(opts.Now))
		if c.store.RestoreMostRecent() {
			c.emit(Update{Kind: UpdateRestored, Messages: visible(c.store.Messages())})
		}

		now := opts.Now()
		c.lead, _ = deps.Store.LoadLead(c.defaultLead(now))
		c.returning = len(c.lead.Interactions) > 0
		c.lead.Interactions = append(c.lead.Interactions, models.Interaction{
			Type:      InteractionPageView,
			URL:       opts.Page.URL,
			Title:     opts.Page.Title,
			Timestamp: now,
		})
		c.lead.LastActivity = now

		engineOpts := scoring.OptionsFromConfig(opts.Widget)
		engineOpts.Now = opts.Now
		c.engine = scoring.NewEngine(&c.lead, engineOpts)

		if c.returning {
			c.score(c.engine.ReturnVisit(c.store.Messages()))
		}
		c.saveLead()

		c.logger = c.logger.With().Str("lead_id", c.lead.ID).Logger()
		c.logger.Debug().
			Bool("returning", c.returning).
			Int("score", c.lead.Score).
			Int("conversations", c.store.Len()).
			Msg("widget loaded")
	})
	return c, nil
}

func (c *Controller) defaultLead(now time.Time) models.Lead {
	return models.Lead{
		ID:           c.opts.NewLeadID(),
		Status:       models.StatusVisitor,
		Source:       c.opts.Page.URL,
		Created:      now,
		LastActivity: now,
		Interactions: []models.Interaction{},
		Interests:    []string{},
		Device:       c.opts.Device,
	}
}

// Start schedules dwell-time checks and periodic autosave.
func (c *Controller) Start() {
	w := c.opts.Widget
	c.sched.After(w.DwellShort, func() {
		c.do(func() {
			c.score(c.engine.DwellShort(c.store.Messages()))
			c.saveLead()
		})
	})
	c.sched.After(w.DwellLong, func() {
		c.do(func() {
			c.score(c.engine.DwellLong(c.store.Messages()))
			c.saveLead()
		})
	})
	c.sched.Every(w.AutosaveInterval, func() {
		if err := c.Autosave(); err != nil {
			c.logger.Warn().Err(err).Msg("autosave failed")
		}
	})
}

// Close cancels every timer and flushes the active conversation and lead.
func (c *Controller) Close() error {
	c.sched.Stop()
	return c.Autosave()
}

// Autosave persists the active conversation and the lead.
func (c *Controller) Autosave() error {
	var err error
	c.do(func() {
		err = c.store.FlushActive()
		if saveErr := c.deps.Store.SaveLead(c.lead); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("save lead: %w", saveErr))
		}
	})
	return err
}

// do runs fn under the state lock, then delivers the updates fn emitted.
// presentMu is taken before mu is released so deliveries keep the order of
// the mutations that produced them.
func (c *Controller) do(fn func()) {
	c.mu.Lock()
	fn()
	pending := c.pending
	c.pending = nil
	c.presentMu.Lock()
	c.mu.Unlock()

	defer c.presentMu.Unlock()
	for _, u := range pending {
		c.deps.Presenter.Present(u)
	}
}

func (c *Controller) emit(u Update) {
	c.pending = append(c.pending, u)
}

func (c *Controller) cue(s Sound) {
	if c.soundEnabled {
		c.emit(Update{Kind: UpdateSound, Sound: s})
	}
}

func (c *Controller) preferences() Update {
	return Update{Kind: UpdatePreferences, DarkMode: c.darkMode, SoundEnabled: c.soundEnabled}
}

// score reports a scoring result and shows the capture prompt when it
// triggered one.
func (c *Controller) score(r scoring.Result) {
	if !r.Awarded {
		return
	}
	c.emit(Update{Kind: UpdateScore, Score: r.Total, Reason: r.Reason, Points: r.Points})
	if r.Prompt {
		c.view = ViewForm
		c.emit(Update{Kind: UpdateCapturePrompt, Score: r.Total})
		c.cue(SoundNotification)
	}
}

func (c *Controller) saveLead() {
	if err := c.deps.Store.SaveLead(c.lead); err != nil {
		c.logger.Warn().Err(err).Msg("failed to save lead")
	}
}

func (c *Controller) flush() {
	if err := c.store.FlushActive(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to save conversation")
	}
}

// SendMessage appends the visitor's message, scores it, asks the relay for
// a reply and appends the reply, or a fixed apology when the relay fails.
// The relay error is returned after the apology is shown.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var (
		req    relay.Request
		convID string
	)
	c.do(func() {
		msg := c.store.AppendMessage(models.RoleUser, text)
		c.emit(Update{Kind: UpdateMessage, Message: msg})
		c.cue(SoundSent)
		c.flush()

		transcript := c.store.Messages()
		c.score(c.engine.MessageSent(transcript))
		for _, r := range c.engine.ScanInterests(text, transcript) {
			c.score(r)
		}
		c.saveLead()

		convID = c.store.ActiveID()
		req = relay.Request{Messages: transcript, PageURL: c.opts.Page.URL, PageTitle: c.opts.Page.Title}
		c.emit(Update{Kind: UpdateTyping, Typing: true})
	})

	reply, err := c.deps.Relay.Complete(ctx, req)

	c.do(func() {
		c.emit(Update{Kind: UpdateTyping, Typing: false})
		if c.store.ActiveID() != convID {
			c.logger.Info().Str("conversation_id", convID).Msg("dropping reply for inactive conversation")
			return
		}
		if err != nil {
			c.logger.Error().Err(err).Msg("chat relay failed")
			msg := c.store.AppendMessage(models.RoleAssistant, ApologyMessage)
			c.emit(Update{Kind: UpdateMessage, Message: msg})
			c.cue(SoundReceived)
			c.flush()
			return
		}

		msg := c.store.AppendMessage(models.RoleAssistant, reply)
		c.emit(Update{Kind: UpdateMessage, Message: msg})
		c.cue(SoundReceived)
		c.flush()
		c.score(c.engine.ResponseReceived(c.store.Messages()))
		c.saveLead()
	})
	return err
}

// Typing plays the typing cue while the visitor types.
func (c *Controller) Typing() {
	c.do(func() { c.cue(SoundTyping) })
}

// Scrolled reports the page scroll depth in pixels.
func (c *Controller) Scrolled(depth int) {
	c.do(func() {
		r := c.engine.PageScrolled(depth, c.store.Messages())
		c.score(r)
		if r.Awarded {
			c.saveLead()
		}
	})
}

// SubmitCapture records the visitor's contact details and submits the lead.
// An invalid email returns scoring.ErrInvalidEmail without touching state or
// calling the sink. A sink failure keeps the captured record, so retrying
// resubmits it.
func (c *Controller) SubmitCapture(ctx context.Context, contact scoring.Contact) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	var (
		lead models.Lead
		err  error
	)
	c.do(func() {
		if err = c.engine.ApplyCapture(contact); err != nil {
			c.notice(scoring.InvalidEmailMessage)
			return
		}
		c.saveLead()
		lead = c.engine.Lead()
	})
	if err != nil {
		return err
	}

	if err := c.deps.Sink.Submit(ctx, lead); err != nil {
		c.logger.Error().Err(err).Msg("lead submission failed")
		c.do(func() { c.notice(SinkErrorMessage) })
		return err
	}

	c.do(func() {
		c.score(c.engine.CaptureSucceeded(c.store.Messages()))
		c.emit(Update{Kind: UpdateCaptureSuccess, Text: CaptureThanks})
		c.cue(SoundNotification)
		c.saveLead()
		c.logger.Info().Int("score", c.lead.Score).Msg("lead captured")
	})
	c.sched.After(c.opts.Widget.SuccessDismiss, func() {
		c.do(c.hideForm)
	})
	return nil
}

// notice shows an inline capture error that clears itself.
func (c *Controller) notice(text string) {
	c.emit(Update{Kind: UpdateCaptureError, Text: text})
	c.sched.After(c.opts.Widget.ErrorDismiss, func() {
		c.do(func() { c.emit(Update{Kind: UpdateNoticeCleared}) })
	})
}

func (c *Controller) hideForm() {
	if c.view != ViewForm {
		return
	}
	c.view = ViewChat
	c.emit(Update{Kind: UpdateCaptureHidden})
}

// SkipCapture dismisses the prompt and records the skip time.
func (c *Controller) SkipCapture() {
	c.do(func() {
		c.engine.Skip()
		c.saveLead()
		c.hideForm()
	})
}

// Toggle opens or closes the widget.
func (c *Controller) Toggle() {
	c.do(func() { c.setOpen(!c.open) })
}

// Open opens the widget if it is closed.
func (c *Controller) Open() {
	c.do(func() {
		if !c.open {
			c.setOpen(true)
		}
	})
}

func (c *Controller) setOpen(open bool) {
	c.open = open
	c.emit(Update{Kind: UpdateView, Open: c.open, View: c.view})
	if c.open {
		c.cue(SoundNotification)
	}
}

func (c *Controller) ToggleDarkMode() {
	c.do(func() {
		c.darkMode = !c.darkMode
		if err := c.deps.Store.SaveDarkMode(c.darkMode); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save dark mode")
		}
		c.emit(c.preferences())
	})
}

func (c *Controller) ToggleSound() {
	c.do(func() {
		c.soundEnabled = !c.soundEnabled
		if err := c.deps.Store.SaveSoundEnabled(c.soundEnabled); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save sound preference")
		}
		c.emit(c.preferences())
		c.cue(SoundNotification)
	})
}

// StartNewConversation saves the active conversation and starts an empty one.
func (c *Controller) StartNewConversation() {
	c.do(func() {
		if err := c.store.StartNew(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save conversation")
		}
		c.emit(Update{Kind: UpdateCleared})
		c.cue(SoundNotification)
	})
}

// LoadConversation makes a stored conversation active and shows it.
func (c *Controller) LoadConversation(id string) error {
	var err error
	c.do(func() {
		if err = c.store.LoadConversation(id); err != nil {
			return
		}
		c.emit(Update{Kind: UpdateRestored, Messages: visible(c.store.Messages())})
		c.cue(SoundNotification)
	})
	return err
}

// DeleteConversation removes a stored conversation. Deleting the active one
// starts an empty conversation.
func (c *Controller) DeleteConversation(id string) error {
	var err error
	c.do(func() {
		active := id == c.store.ActiveID()
		if err = c.store.DeleteConversation(id); err != nil {
			return
		}
		if active {
			c.emit(Update{Kind: UpdateCleared})
		}
		c.cue(SoundNotification)
	})
	return err
}

// History lists every stored conversation, newest first.
func (c *Controller) History() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.History()
}

// Recent lists the conversations shown in the history panel.
func (c *Controller) Recent() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Recent(RecentLimit)
}

// Messages returns the active transcript.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Messages()
}

// Lead returns a copy of the scored lead.
func (c *Controller) Lead() models.Lead {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lead.Clone()
}

// Returning reports whether this load was a return visit.
func (c *Controller) Returning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returning
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Open:           c.open,
		View:           c.view,
		DarkMode:       c.darkMode,
		SoundEnabled:   c.soundEnabled,
		PromptVisible:  c.engine.PromptVisible(),
		Score:          c.lead.Score,
		ConversationID: c.store.ActiveID(),
	}
}
