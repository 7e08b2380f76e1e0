package widget

import "github.com/leadchat/pkg/models"

// View is the panel shown while the widget is open.
type View string

const (
	ViewChat View = "chat"
	ViewForm View = "form"
)

// Sound is an audio cue. Cues are only emitted while sound is enabled.
type Sound string

const (
	SoundSent         Sound = "sent"
	SoundReceived     Sound = "received"
	SoundNotification Sound = "notification"
	SoundTyping       Sound = "typing"
)

type UpdateKind string

const (
	UpdateMessage        UpdateKind = "message"
	UpdateTyping         UpdateKind = "typing"
	UpdateRestored       UpdateKind = "restored"
	UpdateCleared        UpdateKind = "cleared"
	UpdateScore          UpdateKind = "score"
	UpdateCapturePrompt  UpdateKind = "capture_prompt"
	UpdateCaptureHidden  UpdateKind = "capture_hidden"
	UpdateCaptureSuccess UpdateKind = "capture_success"
	UpdateCaptureError   UpdateKind = "capture_error"
	UpdateNoticeCleared  UpdateKind = "notice_cleared"
	UpdateView           UpdateKind = "view"
	UpdatePreferences    UpdateKind = "preferences"
	UpdateSound          UpdateKind = "sound"
)

// Update is one presentation change. Only the fields relevant to Kind are set.
type Update struct {
	Kind UpdateKind

	Message  models.Message   // message
	Messages []models.Message // restored
	Typing   bool             // typing

	Score  int    // score, capture_prompt
	Reason string // score
	Points int    // score

	Text string // capture_success, capture_error

	Open bool // view
	View View // view

	DarkMode     bool // preferences
	SoundEnabled bool // preferences

	Sound Sound // sound
}

// Presenter renders updates. Present is called outside the controller lock,
// in order, and must not call back into mutating Controller methods.
type Presenter interface {
	Present(Update)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Update)

func (f PresenterFunc) Present(u Update) { f(u) }

type discardPresenter struct{}

func (discardPresenter) Present(Update) {}

// visible drops system messages from a transcript before display.
func visible(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != models.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
