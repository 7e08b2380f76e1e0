package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadchat/pkg/models"
)

// Persisted keys.
const (
	KeyDarkMode     = "leadchat-dark-mode"
	KeySoundEnabled = "leadchat-sound-enabled"
	KeyHistory      = "leadchat-history"
	KeyLead         = "leadchat-lead"
)

// Adapter reads and writes the four widget state entries. Load never fails:
// absent or malformed values are logged and reported as absent so callers
// fall back to defaults.
type Adapter struct {
	kv     KV
	logger zerolog.Logger
}

func NewAdapter(kv KV) *Adapter {
	return &Adapter{
		kv:     kv,
		logger: log.With().Str("component", "storage").Logger(),
	}
}

// Load decodes the JSON stored under key into v. It reports false when the
// key is absent, unreadable or malformed; v must be discarded in that case.
func (a *Adapter) Load(key string, v any) bool {
	raw, ok, err := a.kv.Get(context.Background(), key)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("failed to read stored value")
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed stored value")
		return false
	}
	return true
}

// Save JSON-encodes v under key.
func (a *Adapter) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.kv.Set(context.Background(), key, string(data)); err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("failed to persist value")
		return err
	}
	return nil
}

func (a *Adapter) loadBool(key string, def bool) bool {
	raw, ok, err := a.kv.Get(context.Background(), key)
	if err != nil || !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		a.logger.Warn().Str("key", key).Str("value", raw).Msg("discarding malformed flag")
		return def
	}
	return b
}

// LoadDarkMode returns the stored dark-mode flag or def.
func (a *Adapter) LoadDarkMode(def bool) bool { return a.loadBool(KeyDarkMode, def) }

func (a *Adapter) SaveDarkMode(on bool) error { return a.Save(KeyDarkMode, on) }

// LoadSoundEnabled returns the stored sound flag; sound is on by default.
func (a *Adapter) LoadSoundEnabled() bool { return a.loadBool(KeySoundEnabled, true) }

func (a *Adapter) SaveSoundEnabled(on bool) error { return a.Save(KeySoundEnabled, on) }

// LoadHistory returns the stored conversation history, or an empty map.
// Conversation ids are restored from the map keys.
func (a *Adapter) LoadHistory() models.History {
	var stored models.History
	if !a.Load(KeyHistory, &stored) || stored == nil {
		return models.History{}
	}
	history := make(models.History, len(stored))
	for id, conv := range stored {
		conv.ID = id
		history[id] = conv
	}
	return history
}

func (a *Adapter) SaveHistory(h models.History) error {
	return a.Save(KeyHistory, h)
}

// LoadLead merges the persisted lead over defaults. Fields missing from the
// stored record keep their default values; a malformed record yields defaults.
func (a *Adapter) LoadLead(defaults models.Lead) (models.Lead, bool) {
	merged := defaults.Clone()
	if !a.Load(KeyLead, &merged) {
		return defaults, false
	}
	if merged.ID == "" {
		merged.ID = defaults.ID
	}
	if merged.Status == "" {
		merged.Status = defaults.Status
	}
	return merged, true
}

func (a *Adapter) SaveLead(l models.Lead) error {
	return a.Save(KeyLead, l)
}
