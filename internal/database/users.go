package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, email, hashed_password, full_name, address, locale, timezone,
	push_token, latitude, longitude, is_active, is_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.Address, &u.Locale,
		&u.Timezone, &u.PushToken, &u.Latitude, &u.Longitude,
		&u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// UpdatePushToken stores the device push token; an empty token clears it.
func (s *Store) UpdatePushToken(ctx context.Context, userID, token string) error {
	var value interface{}
	if token != "" {
		value = token
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET push_token = $2, updated_at = NOW() WHERE id = $1`,
		userID, value)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProfileUpdate carries the PATCHable profile fields; nil leaves a field
// unchanged.
type ProfileUpdate struct {
	FullName  *string
	Address   *string
	Locale    *string
	Timezone  *string
	Latitude  *float64
	Longitude *float64
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			address   = COALESCE($3, address),
			locale    = COALESCE($4, locale),
			timezone  = COALESCE($5, timezone),
			latitude  = COALESCE($6, latitude),
			longitude = COALESCE($7, longitude),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, upd.FullName, upd.Address, upd.Locale, upd.Timezone,
		upd.Latitude, upd.Longitude)
	return scanUser(row)
}
