package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const notificationColumns = `id, user_id, type, title, body, payload, read, read_at, created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Payload,
		&n.Read, &n.ReadAt, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	return &n, nil
}

type NewNotification struct {
	UserID  string
	Type    string
	Title   string
	Body    string
	Payload []byte
}

func (s *Store) InsertNotification(ctx context.Context, n NewNotification) (*Notification, error) {
	var payload interface{}
	if len(n.Payload) > 0 {
		payload = n.Payload
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+notificationColumns,
		uuid.NewString(), n.UserID, n.Type, n.Title, n.Body, payload)
	return scanNotification(row)
}

// ListUnreadNotifications returns the user's pending notifications, newest
// first, which is the delivery order of the event stream.
func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND read = FALSE ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead flips read false→true in one statement. Already-read
// rows are untouched, so read never regresses and read_at is set exactly
// once.
func (s *Store) MarkNotificationsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = NOW()
		WHERE id = ANY($1) AND read = FALSE`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
