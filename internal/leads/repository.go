package leads

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leadchat/pkg/models"
)

// Repository persists leads keyed by lead id.
type Repository interface {
	// Upsert inserts a new lead or updates the mutable fields of an existing
	// one. The first captured_at is kept.
	Upsert(ctx context.Context, lead models.Lead) (models.Lead, error)
	Get(ctx context.Context, leadID string) (models.Lead, error)
	List(ctx context.Context, filter ListFilter) ([]models.Lead, int, error)
	UpdateStatus(ctx context.Context, leadID string, status models.LeadStatus, at time.Time) error
	Delete(ctx context.Context, leadID string) error
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListFilter selects a page of leads. Search matches email or name.
type ListFilter struct {
	Page    int               `query:"page"`
	PerPage int               `query:"per_page"`
	Status  models.LeadStatus `query:"status"`
	Search  string            `query:"search"`
}

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

func (f ListFilter) offset() int { return (f.Page - 1) * f.PerPage }

type ListResult struct {
	Leads      []models.Lead `json:"leads"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	TotalPages int           `json:"total_pages"`
}

func newListResult(leads []models.Lead, total int, f ListFilter) ListResult {
	if leads == nil {
		leads = []models.Lead{}
	}
	return ListResult{
		Leads:      leads,
		Total:      total,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: int(math.Ceil(float64(total) / float64(f.PerPage))),
	}
}

// MemoryRepository keeps leads in memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]models.Lead
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{leads: make(map[string]models.Lead)}
}

func (m *MemoryRepository) Upsert(_ context.Context, lead models.Lead) (models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.leads[lead.ID]; ok {
		updated := existing.Clone()
		updated.Email = lead.Email
		updated.Name = lead.Name
		updated.Phone = lead.Phone
		updated.Score = lead.Score
		updated.Status = lead.Status
		updated.LastActivity = lead.LastActivity
		updated.Interactions = lead.Clone().Interactions
		updated.Interests = lead.Clone().Interests
		updated.ConversationMessages = lead.ConversationMessages
		updated.Captured = true
		updated.UpdatedAt = lead.UpdatedAt
		m.leads[lead.ID] = updated
		return updated.Clone(), nil
	}

	stored := lead.Clone()
	m.leads[lead.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryRepository) Get(_ context.Context, leadID string) (models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return models.Lead{}, ErrNotFound
	}
	return lead.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]models.Lead, int, error) {
	filter = filter.normalized()
	search := strings.ToLower(filter.Search)

	m.mu.RLock()
	var matched []models.Lead
	for _, lead := range m.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(lead.Email), search) &&
			!strings.Contains(strings.ToLower(lead.Name), search) {
			continue
		}
		matched = append(matched, lead.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := capturedAt(matched[i]), capturedAt(matched[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := filter.offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func capturedAt(l models.Lead) time.Time {
	if l.CapturedAt == nil {
		return time.Time{}
	}
	return *l.CapturedAt
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, leadID string, status models.LeadStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	lead.Status = status
	lead.UpdatedAt = &at
	m.leads[leadID] = lead
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, leadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[leadID]; !ok {
		return ErrNotFound
	}
	delete(m.leads, leadID)
	return nil
}
