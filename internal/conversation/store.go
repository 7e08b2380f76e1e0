// Package conversation keeps the active chat transcript and the bounded
// history of past conversations.
//
// A Store is not safe for concurrent use; the widget controller serializes
// every call.
package conversation

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadchat/pkg/models"
)

const (
	// DefaultLimit is the maximum number of conversations kept in history.
	DefaultLimit = 10

	// PlaceholderTitle names a conversation without any user message.
	PlaceholderTitle = "New Conversation"

	titleMaxRunes = 30
)

var ErrNotFound = errors.New("conversation not found")

// HistoryWriter persists the full history map. Each call overwrites the
// previous value.
type HistoryWriter interface {
	SaveHistory(models.History) error
}

type Store struct {
	active  models.Conversation
	history models.History
	limit   int

	writer HistoryWriter
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

type Option func(*Store)

// WithLimit overrides the history retention cap.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock sets the time source used for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the conversation id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewID returns a fresh conversation id.
func NewID() string {
	return "conv_" + ulid.Make().String()
}

// NewStore builds a store over a previously persisted history. The active
// conversation starts empty; call RestoreMostRecent to resume.
func NewStore(history models.History, writer HistoryWriter, opts ...Option) *Store {
	s := &Store{
		history: make(models.History, len(history)),
		limit:   DefaultLimit,
		writer:  writer,
		now:     time.Now,
		newID:   NewID,
		logger:  log.With().Str("component", "conversation").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for id, conv := range history {
		conv.ID = id
		conv.Messages = slices.Clone(conv.Messages)
		s.history[id] = conv
	}
	s.active = s.fresh()
	return s
}

func (s *Store) fresh() models.Conversation {
	return models.Conversation{ID: s.newID(), Title: PlaceholderTitle}
}

// Active returns a copy of the active conversation.
func (s *Store) Active() models.Conversation {
	c := s.active
	c.Messages = slices.Clone(s.active.Messages)
	return c
}

// ActiveID returns the id of the active conversation.
func (s *Store) ActiveID() string { return s.active.ID }

// Messages returns a copy of the active transcript.
func (s *Store) Messages() []models.Message {
	return slices.Clone(s.active.Messages)
}

// AppendMessage adds a message to the active conversation. It does not persist.
func (s *Store) AppendMessage(role models.Role, content string) models.Message {
	msg := models.Message{Role: role, Content: content}
	s.active.Messages = append(s.active.Messages, msg)
	return msg
}

// FlushActive upserts a non-empty active conversation into history with a
// fresh timestamp and title, evicts the oldest entries beyond the limit and
// persists the result.
func (s *Store) FlushActive() error {
	if len(s.active.Messages) == 0 {
		return nil
	}

	s.active.LastUpdated = s.now()
	s.active.Title = DeriveTitle(s.active.Messages)

	stored := s.active
	stored.Messages = slices.Clone(s.active.Messages)
	s.history[stored.ID] = stored

	if evicted := s.evict(); len(evicted) > 0 {
		s.logger.Debug().Strs("evicted", evicted).Int("limit", s.limit).Msg("evicted old conversations")
	}
	return s.persist()
}

// evict removes the least recently updated conversations until the history
// fits the limit. The active conversation is never evicted.
func (s *Store) evict() []string {
	excess := len(s.history) - s.limit
	if excess <= 0 {
		return nil
	}

	candidates := make([]models.Conversation, 0, len(s.history))
	for id, conv := range s.history {
		if id == s.active.ID {
			continue
		}
		candidates = append(candidates, conv)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return older(candidates[i], candidates[j])
	})

	var evicted []string
	for _, conv := range candidates {
		if excess == 0 {
			break
		}
		delete(s.history, conv.ID)
		evicted = append(evicted, conv.ID)
		excess--
	}
	return evicted
}

// older orders by lastUpdated, falling back to id so equal timestamps evict
// deterministically.
func older(a, b models.Conversation) bool {
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.Before(b.LastUpdated)
	}
	return a.ID < b.ID
}

func (s *Store) persist() error {
	if s.writer == nil {
		return nil
	}
	snapshot := make(models.History, len(s.history))
	for id, conv := range s.history {
		snapshot[id] = conv
	}
	if err := s.writer.SaveHistory(snapshot); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist conversation history")
		return err
	}
	return nil
}

// StartNew flushes the active conversation and replaces it with an empty one.
// The new conversation is started even when persisting fails.
func (s *Store) StartNew() error {
	err := s.FlushActive()
	s.active = s.fresh()
	return err
}

// RestoreMostRecent makes the most recently updated stored conversation
// active. It reports false when history is empty.
func (s *Store) RestoreMostRecent() bool {
	var latest *models.Conversation
	for _, conv := range s.history {
		if latest == nil || older(*latest, conv) {
			c := conv
			latest = &c
		}
	}
	if latest == nil {
		return false
	}
	s.active = *latest
	s.active.Messages = slices.Clone(latest.Messages)
	return true
}

// LoadConversation flushes the active conversation and activates id.
func (s *Store) LoadConversation(id string) error {
	target, ok := s.history[id]
	if !ok {
		return ErrNotFound
	}
	err := s.FlushActive()
	if id != s.active.ID {
		s.active = target
		s.active.Messages = slices.Clone(target.Messages)
	}
	return err
}

// DeleteConversation removes id from history. Deleting the active
// conversation replaces it with an empty one without flushing it back.
func (s *Store) DeleteConversation(id string) error {
	_, stored := s.history[id]
	if !stored && id != s.active.ID {
		return ErrNotFound
	}
	delete(s.history, id)
	if id == s.active.ID {
		s.active = s.fresh()
	}
	if !stored {
		return nil
	}
	return s.persist()
}

// Len is the number of stored conversations.
func (s *Store) Len() int { return len(s.history) }

// Get returns a copy of a stored conversation.
func (s *Store) Get(id string) (models.Conversation, bool) {
	conv, ok := s.history[id]
	if !ok {
		return models.Conversation{}, false
	}
	conv.Messages = slices.Clone(conv.Messages)
	return conv, true
}

// History lists stored conversations, most recently updated first.
func (s *Store) History() []models.ConversationSummary {
	convs := make([]models.Conversation, 0, len(s.history))
	for _, conv := range s.history {
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return older(convs[j], convs[i])
	})

	out := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		out = append(out, models.ConversationSummary{
			ID:          conv.ID,
			Title:       conv.Title,
			LastUpdated: conv.LastUpdated,
			Messages:    len(conv.Messages),
			Active:      conv.ID == s.active.ID,
		})
	}
	return out
}

// Recent returns at most n entries of History.
func (s *Store) Recent(n int) []models.ConversationSummary {
	all := s.History()
	if n >= 0 && len(all) > n {
		return all[:n]
	}
	return all
}

// DeriveTitle returns the first user message cut to 30 characters, with an
// ellipsis when cut, or the placeholder when there is no user message.
func DeriveTitle(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes]) + "..."
		}
		return m.Content
	}
	return PlaceholderTitle
}
