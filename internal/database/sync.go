package database

import (
	"context"
	"fmt"
	"time"
)

// SyncDelta is everything that changed for one user since a watermark.
// DeletedIDs is always present for the wire format; rows are removed by
// cascade today so it stays empty.
type SyncDelta struct {
	ServerTime        time.Time           `json:"server_time"`
	IsFullSync        bool                `json:"is_full_sync"`
	Conversations     []*Conversation     `json:"conversations"`
	Messages          []*Message          `json:"messages"`
	Documents         []*Document         `json:"documents"`
	Summaries         []*Summary          `json:"summaries"`
	LawyerConnections []*LawyerConnection `json:"lawyer_connections"`
	Notifications     []*Notification     `json:"notifications"`
	DeletedIDs        map[string][]string `json:"deleted_ids"`
}

// DeltaSince collects one user's changes after the watermark. The returned
// ServerTime is captured before the first query so a client that resumes
// from it can only re-receive rows, never miss them. Watermark columns:
// updated_at for mutable entities, created_at for immutable messages,
// created_at-or-read_at for notifications so read flips propagate.
func (s *Store) DeltaSince(ctx context.Context, userID string, since time.Time) (*SyncDelta, error) {
	delta := &SyncDelta{
		ServerTime: time.Now().UTC(),
		DeletedIDs: map[string][]string{
			"conversations": {}, "messages": {}, "documents": {},
			"summaries": {}, "lawyer_connections": {}, "notifications": {},
		},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = $1 AND updated_at > $2 ORDER BY updated_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync conversations: %w", err)
	}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.Conversations = append(delta.Conversations, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.agent_name,
		       m.function_call, m.document_ids, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = $1 AND m.created_at > $2
		ORDER BY m.created_at, m.id`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync messages: %w", err)
	}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.Messages = append(delta.Messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = $1 AND updated_at > $2 ORDER BY updated_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync documents: %w", err)
	}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.Documents = append(delta.Documents, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries
		 WHERE user_id = $1 AND updated_at > $2 ORDER BY updated_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync summaries: %w", err)
	}
	for rows.Next() {
		sm, err := scanSummary(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.Summaries = append(delta.Summaries, sm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM lawyer_connections
		 WHERE user_id = $1 AND updated_at > $2 ORDER BY updated_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync lawyer connections: %w", err)
	}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.LawyerConnections = append(delta.LawyerConnections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND (created_at > $2 OR read_at > $2)
		 ORDER BY created_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sync notifications: %w", err)
	}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		delta.Notifications = append(delta.Notifications, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return delta, nil
}
