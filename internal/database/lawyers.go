package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const connectionColumns = `id, user_id, conversation_id, summary_id, lawyer_id, lawyer_name,
	message, status, external_case_id, lawyer_response_at, created_at, updated_at`

func scanConnection(row interface{ Scan(...interface{}) error }) (*LawyerConnection, error) {
	var c LawyerConnection
	err := row.Scan(
		&c.ID, &c.UserID, &c.ConversationID, &c.SummaryID, &c.LawyerID, &c.LawyerName,
		&c.Message, &c.Status, &c.ExternalCaseID, &c.LawyerResponseAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan lawyer connection: %w", err)
	}
	return &c, nil
}

type NewLawyerConnection struct {
	UserID         string
	ConversationID string
	SummaryID      *string
	LawyerID       string
	LawyerName     string
	Message        *string
}

func (s *Store) InsertLawyerConnection(ctx context.Context, n NewLawyerConnection) (*LawyerConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lawyer_connections (id, user_id, conversation_id, summary_id, lawyer_id, lawyer_name, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+connectionColumns,
		uuid.NewString(), n.UserID, n.ConversationID, n.SummaryID, n.LawyerID,
		n.LawyerName, n.Message, ConnectionPending)
	return scanConnection(row)
}

func (s *Store) GetLawyerConnection(ctx context.Context, id string) (*LawyerConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM lawyer_connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (s *Store) ListLawyerConnections(ctx context.Context, userID string) ([]*LawyerConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM lawyer_connections
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lawyer connections: %w", err)
	}
	defer rows.Close()

	var out []*LawyerConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindConnection locates the latest connection matching the webhook's
// (user, conversation, lawyer) triple.
func (s *Store) FindConnection(ctx context.Context, userID, conversationID, lawyerID string) (*LawyerConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM lawyer_connections
		 WHERE user_id = $1 AND conversation_id = $2 AND lawyer_id = $3
		 ORDER BY created_at DESC LIMIT 1`,
		userID, conversationID, lawyerID)
	return scanConnection(row)
}

// RecordLawyerResponse applies an inbound lawyer decision. Transitions are
// forward-only (a settled connection keeps its status), the external case id
// binds exactly once, and the response timestamp comes from the payload with
// NOW() as the fallback.
func (s *Store) RecordLawyerResponse(ctx context.Context, id, status, lawyerName string, externalCaseID *string, respondedAt *time.Time) (*LawyerConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE lawyer_connections SET
			status             = CASE WHEN status = $2 THEN $3 ELSE status END,
			lawyer_name        = COALESCE(NULLIF($4, ''), lawyer_name),
			external_case_id   = COALESCE(external_case_id, $5),
			lawyer_response_at = COALESCE(lawyer_response_at, $6, NOW()),
			updated_at         = NOW()
		WHERE id = $1
		RETURNING `+connectionColumns,
		id, ConnectionPending, status, lawyerName, externalCaseID, respondedAt)
	return scanConnection(row)
}

// BindExternalCase stores the directory's case id returned by a successful
// handoff. Bind-once, same as the webhook path.
func (s *Store) BindExternalCase(ctx context.Context, id, externalCaseID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lawyer_connections SET
			external_case_id = COALESCE(external_case_id, $2),
			updated_at = NOW()
		WHERE id = $1`,
		id, externalCaseID)
	if err != nil {
		return fmt.Errorf("failed to bind external case: %w", err)
	}
	return nil
}
