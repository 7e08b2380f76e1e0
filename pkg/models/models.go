package models

import (
	"slices"
	"time"
)

// Lead lifecycle

// LeadStatus is the capture status of a visitor. The only transition is
// visitor -> lead, made by a successful capture submission.
type LeadStatus string

const (
	StatusVisitor LeadStatus = "visitor"
	StatusLead    LeadStatus = "lead"
)

// Server-side management statuses set from the lead admin endpoints.
const (
	StatusContacted LeadStatus = "contacted"
	StatusQualified LeadStatus = "qualified"
	StatusConverted LeadStatus = "converted"
	StatusLost      LeadStatus = "lost"
)

// ValidStatus reports whether s is a status the lead store accepts.
func ValidStatus(s LeadStatus) bool {
	switch s {
	case StatusVisitor, StatusLead, StatusContacted, StatusQualified, StatusConverted, StatusLost:
		return true
	}
	return false
}

// Interaction is one entry in the append-only interaction log of a lead.
type Interaction struct {
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// Device is the browser/runtime context captured once when the lead is created.
type Device struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Referrer         string `json:"referrer"`
}

// Lead is the per-visitor record the widget scores and eventually submits
// to the lead sink.
type Lead struct {
	ID     string     `json:"id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Phone  string     `json:"phone"`
	Score  int        `json:"score"`
	Status LeadStatus `json:"status"`
	Source string     `json:"source"`

	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"lastActivity"`

	Interactions []Interaction `json:"interactions"`
	Interests    []string      `json:"interests"`

	Device

	ConversationMessages int        `json:"conversation_messages"`
	CaptureAttempts      int        `json:"captureAttempts"`
	Captured             bool       `json:"captured"`
	LastSkip             *time.Time `json:"lastSkip,omitempty"`

	// Milestones holds the one-shot scoring events already awarded
	// (scroll, dwell), so they never fire twice for the same lead.
	Milestones []string `json:"milestones,omitempty"`

	// Filled in by the lead sink.
	IPAddress  string     `json:"ip_address,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// HasInterest reports whether topic was already recorded.
func (l *Lead) HasInterest(topic string) bool {
	return slices.Contains(l.Interests, topic)
}

// AddInterest records topic once, keeping insertion order.
func (l *Lead) AddInterest(topic string) bool {
	if l.HasInterest(topic) {
		return false
	}
	l.Interests = append(l.Interests, topic)
	return true
}

// HasMilestone reports whether a one-shot event was already awarded.
func (l *Lead) HasMilestone(name string) bool {
	return slices.Contains(l.Milestones, name)
}

// AddMilestone marks a one-shot event as awarded.
func (l *Lead) AddMilestone(name string) bool {
	if l.HasMilestone(name) {
		return false
	}
	l.Milestones = append(l.Milestones, name)
	return true
}

// Clone returns a deep copy safe to hand across goroutines.
func (l Lead) Clone() Lead {
	c := l
	c.Interactions = slices.Clone(l.Interactions)
	c.Interests = slices.Clone(l.Interests)
	c.Milestones = slices.Clone(l.Milestones)
	if l.LastSkip != nil {
		t := *l.LastSkip
		c.LastSkip = &t
	}
	if l.CapturedAt != nil {
		t := *l.CapturedAt
		c.CapturedAt = &t
	}
	if l.UpdatedAt != nil {
		t := *l.UpdatedAt
		c.UpdatedAt = &t
	}
	return c
}

// Conversation models

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is immutable once appended to a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is one stored exchange. The id is the key in History and is
// not repeated in the persisted value.
type Conversation struct {
	ID          string    `json:"-"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"lastUpdated"`
	Title       string    `json:"title"`
}

// History maps conversation id to conversation.
type History map[string]Conversation

// ConversationSummary is the listing view of a stored conversation.
type ConversationSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"lastUpdated"`
	Messages    int       `json:"messages"`
	Active      bool      `json:"active"`
}
