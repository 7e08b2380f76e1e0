package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadchat/pkg/models"
)

// PostgresRepository stores leads in the leads table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const leadColumns = `
	lead_id, email, name, phone, score, status, source, created, last_activity,
	interactions, interests, user_agent, screen_resolution, timezone, referrer,
	conversation_messages, ip_address, captured_at, updated_at`

func (r *PostgresRepository) Upsert(ctx context.Context, lead models.Lead) (models.Lead, error) {
	interactions, err := json.Marshal(nonNilInteractions(lead.Interactions))
	if err != nil {
		return models.Lead{}, fmt.Errorf("encode interactions: %w", err)
	}
	interests, err := json.Marshal(nonNilStrings(lead.Interests))
	if err != nil {
		return models.Lead{}, fmt.Errorf("encode interests: %w", err)
	}

	query := `
	INSERT INTO leads (
		lead_id, email, name, phone, score, status, source, created, last_activity,
		interactions, interests, user_agent, screen_resolution, timezone, referrer,
		conversation_messages, ip_address, captured_at, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15,
		$16, $17, $18, NOW(), NOW()
	)
	ON CONFLICT (lead_id) DO UPDATE SET
		email = EXCLUDED.email,
		name = EXCLUDED.name,
		phone = EXCLUDED.phone,
		score = EXCLUDED.score,
		status = EXCLUDED.status,
		last_activity = EXCLUDED.last_activity,
		interactions = EXCLUDED.interactions,
		interests = EXCLUDED.interests,
		conversation_messages = EXCLUDED.conversation_messages,
		updated_at = NOW()
	RETURNING ` + leadColumns

	log.Debug().Str("lead_id", lead.ID).Msg("Upserting lead")

	row := r.db.QueryRowContext(ctx, query,
		lead.ID, lead.Email, lead.Name, lead.Phone, lead.Score, string(lead.Status), lead.Source,
		nullTime(lead.Created), nullTime(lead.LastActivity),
		string(interactions), string(interests),
		lead.UserAgent, lead.ScreenResolution, lead.Timezone, lead.Referrer,
		lead.ConversationMessages, lead.IPAddress, lead.CapturedAt,
	)
	stored, err := scanLead(row)
	if err != nil {
		return models.Lead{}, fmt.Errorf("upsert lead %s: %w", lead.ID, err)
	}
	stored.Milestones = lead.Milestones
	return stored, nil
}

func (r *PostgresRepository) Get(ctx context.Context, leadID string) (models.Lead, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE lead_id = $1`, leadID)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lead{}, ErrNotFound
	}
	if err != nil {
		return models.Lead{}, fmt.Errorf("get lead %s: %w", leadID, err)
	}
	return lead, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]models.Lead, int, error) {
	filter = filter.normalized()

	where := `WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR email ILIKE '%' || $2 || '%' OR name ILIKE '%' || $2 || '%')`

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads `+where,
		string(filter.Status), filter.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads `+where+` ORDER BY captured_at DESC NULLS LAST, id DESC LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.Search, filter.PerPage, filter.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, total, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, leadID string, status models.LeadStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE lead_id = $3`, string(status), at, leadID)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	return requireAffected(result)
}

func (r *PostgresRepository) Delete(ctx context.Context, leadID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE lead_id = $1`, leadID)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (models.Lead, error) {
	var (
		lead                            models.Lead
		status                          string
		created, lastActivity           sql.NullTime
		capturedAt, updatedAt           sql.NullTime
		interactions, interests         []byte
		name, phone, source, ip         sql.NullString
		userAgent, resolution, timezone sql.NullString
		referrer                        sql.NullString
	)
	err := row.Scan(
		&lead.ID, &lead.Email, &name, &phone, &lead.Score, &status, &source, &created, &lastActivity,
		&interactions, &interests, &userAgent, &resolution, &timezone, &referrer,
		&lead.ConversationMessages, &ip, &capturedAt, &updatedAt,
	)
	if err != nil {
		return models.Lead{}, err
	}

	lead.Status = models.LeadStatus(status)
	lead.Name = name.String
	lead.Phone = phone.String
	lead.Source = source.String
	lead.IPAddress = ip.String
	lead.UserAgent = userAgent.String
	lead.ScreenResolution = resolution.String
	lead.Timezone = timezone.String
	lead.Referrer = referrer.String
	lead.Captured = true
	if created.Valid {
		lead.Created = created.Time
	}
	if lastActivity.Valid {
		lead.LastActivity = lastActivity.Time
	}
	if capturedAt.Valid {
		t := capturedAt.Time
		lead.CapturedAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		lead.UpdatedAt = &t
	}
	if len(interactions) > 0 {
		if err := json.Unmarshal(interactions, &lead.Interactions); err != nil {
			log.Warn().Err(err).Str("lead_id", lead.ID).Msg("discarding malformed interactions")
		}
	}
	if len(interests) > 0 {
		if err := json.Unmarshal(interests, &lead.Interests); err != nil {
			log.Warn().Err(err).Str("lead_id", lead.ID).Msg("discarding malformed interests")
		}
	}
	return lead, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNilInteractions(v []models.Interaction) []models.Interaction {
	if v == nil {
		return []models.Interaction{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
