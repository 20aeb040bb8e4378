package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const conversationColumns = `id, user_id, title, status, current_agent, remote_conversation_id,
	fact_who, fact_what, fact_when, fact_where, fact_why,
	analysis_done, summary_generated, wrapup_confirmed,
	legal_area, case_strength, urgency, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.Status, &c.CurrentAgent, &c.RemoteConversationID,
		&c.FactWho, &c.FactWhat, &c.FactWhen, &c.FactWhere, &c.FactWhy,
		&c.AnalysisDone, &c.SummaryGenerated, &c.WrapupConfirmed,
		&c.LegalArea, &c.CaseStrength, &c.Urgency, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID, title, initialAgent string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, title, status, current_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+conversationColumns,
		uuid.NewString(), userID, title, ConversationActive, initialAgent)
	return scanConversation(row)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConversationUpdate carries PATCHable fields; nil leaves a field unchanged.
type ConversationUpdate struct {
	Title           *string
	Status          *string
	WrapupConfirmed *bool
}

func (s *Store) UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE conversations SET
			title            = COALESCE($2, title),
			status           = COALESCE($3, status),
			wrapup_confirmed = COALESCE($4, wrapup_confirmed),
			updated_at       = NOW()
		WHERE id = $1
		RETURNING `+conversationColumns,
		id, upd.Title, upd.Status, upd.WrapupConfirmed)
	return scanConversation(row)
}

// DeleteConversation removes the conversation; messages, documents and the
// summary follow via ON DELETE CASCADE.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BindRemoteConversation stores the agent-platform handle. The handle is
// immutable: a second bind is a silent no-op so concurrent first turns
// cannot flip it.
func (s *Store) BindRemoteConversation(ctx context.Context, id, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET remote_conversation_id = $2, updated_at = NOW()
		WHERE id = $1 AND remote_conversation_id IS NULL`,
		id, remoteID)
	if err != nil {
		return fmt.Errorf("failed to bind remote conversation: %w", err)
	}
	return nil
}

// SetCurrentAgent records which agent answered last and bumps updated_at,
// which is what makes the conversation surface in the next delta sync.
func (s *Store) SetCurrentAgent(ctx context.Context, id, agent string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET current_agent = $2, updated_at = NOW() WHERE id = $1`,
		id, agent)
	if err != nil {
		return fmt.Errorf("failed to set current agent: %w", err)
	}
	return nil
}

// FactsUpdate merges agent-collected case data onto the conversation.
// Nil fields are untouched.
type FactsUpdate struct {
	Who          json.RawMessage
	What         json.RawMessage
	When         json.RawMessage
	Where        json.RawMessage
	Why          json.RawMessage
	LegalArea    *string
	CaseStrength *string
	Urgency      *string
	AnalysisDone *bool
}

func (u FactsUpdate) Empty() bool {
	return len(u.Who) == 0 && len(u.What) == 0 && len(u.When) == 0 &&
		len(u.Where) == 0 && len(u.Why) == 0 &&
		u.LegalArea == nil && u.CaseStrength == nil && u.Urgency == nil &&
		u.AnalysisDone == nil
}

func (s *Store) UpdateFacts(ctx context.Context, id string, upd FactsUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			fact_who      = COALESCE($2, fact_who),
			fact_what     = COALESCE($3, fact_what),
			fact_when     = COALESCE($4, fact_when),
			fact_where    = COALESCE($5, fact_where),
			fact_why      = COALESCE($6, fact_why),
			legal_area    = COALESCE($7, legal_area),
			case_strength = COALESCE($8, case_strength),
			urgency       = COALESCE($9, urgency),
			analysis_done = COALESCE($10, analysis_done),
			updated_at    = NOW()
		WHERE id = $1`,
		id, marshalJSON(upd.Who), marshalJSON(upd.What), marshalJSON(upd.When),
		marshalJSON(upd.Where), marshalJSON(upd.Why),
		upd.LegalArea, upd.CaseStrength, upd.Urgency, upd.AnalysisDone)
	if err != nil {
		return fmt.Errorf("failed to update facts: %w", err)
	}
	return nil
}

// SetWrapupConfirmed flips the flag when the wrap-up agent takes over.
func (s *Store) SetWrapupConfirmed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET wrapup_confirmed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to confirm wrapup: %w", err)
	}
	return nil
}

// MarkSummarized flags the conversation as summarized and completes it if
// still active. Idempotent.
func (s *Store) MarkSummarized(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			summary_generated = TRUE,
			status = CASE WHEN status = $2 THEN $3 ELSE status END,
			updated_at = NOW()
		WHERE id = $1`,
		id, ConversationActive, ConversationCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark summarized: %w", err)
	}
	return nil
}
