package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageColumns = `id, conversation_id, user_id, role, content, agent_name,
	function_call, document_ids, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	var (
		m    Message
		docs []byte
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content,
		&m.AgentName, &m.FunctionCall, &docs, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	ids, err := unmarshalStrings(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document ids: %w", err)
	}
	m.DocumentIDs = ids
	return &m, nil
}

// NewMessage carries the writable message fields.
type NewMessage struct {
	ConversationID string
	UserID         string
	Role           string
	Content        string
	AgentName      *string
	FunctionCall   []byte
	DocumentIDs    []string
}

func (s *Store) InsertMessage(ctx context.Context, m NewMessage) (*Message, error) {
	docs, err := marshalStrings(m.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document ids: %w", err)
	}
	var fc interface{}
	if len(m.FunctionCall) > 0 {
		fc = m.FunctionCall
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, agent_name, function_call, document_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		uuid.NewString(), m.ConversationID, m.UserID, m.Role, m.Content,
		m.AgentName, fc, docs)
	return scanMessage(row)
}

// ListMessages returns the conversation transcript in dialogue order:
// created_at with id as the tie-breaker.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
