package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const summaryColumns = `id, conversation_id, user_id, content, reference_number,
	markdown_key, pdf_key, pdf_url, legal_area, case_strength, urgency, created_at, updated_at`

func scanSummary(row interface{ Scan(...interface{}) error }) (*Summary, error) {
	var sm Summary
	err := row.Scan(
		&sm.ID, &sm.ConversationID, &sm.UserID, &sm.Content, &sm.ReferenceNumber,
		&sm.MarkdownKey, &sm.PDFKey, &sm.PDFURL,
		&sm.LegalArea, &sm.CaseStrength, &sm.Urgency, &sm.CreatedAt, &sm.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	return &sm, nil
}

// NewSummary is a fully materialized dossier: the pipeline generates the id
// up front (the reference number is derived from it) and uploads both blobs
// before this insert runs.
type NewSummary struct {
	ID              string
	ConversationID  string
	UserID          string
	Content         string
	ReferenceNumber string
	MarkdownKey     string
	PDFKey          string
	PDFURL          string
	LegalArea       *string
	CaseStrength    *string
	Urgency         *string
}

// InsertSummary persists the dossier. A concurrent insert for the same
// conversation loses the unique-constraint race and gets ErrDuplicate; the
// caller then returns the row that won.
func (s *Store) InsertSummary(ctx context.Context, n NewSummary) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO summaries (id, conversation_id, user_id, content, reference_number,
			markdown_key, pdf_key, pdf_url, legal_area, case_strength, urgency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+summaryColumns,
		n.ID, n.ConversationID, n.UserID, n.Content, n.ReferenceNumber,
		n.MarkdownKey, n.PDFKey, n.PDFURL, n.LegalArea, n.CaseStrength, n.Urgency)
	sm, err := scanSummary(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return sm, nil
}

func (s *Store) GetSummary(ctx context.Context, id string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE id = $1`, id)
	return scanSummary(row)
}

func (s *Store) GetSummaryByConversation(ctx context.Context, conversationID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE conversation_id = $1`, conversationID)
	return scanSummary(row)
}

func (s *Store) ListSummaries(ctx context.Context, userID string) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		sm, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// UpdateSummaryContent rewrites the markdown and the re-rendered PDF URL.
// Blob keys stay fixed because the reference number never changes.
func (s *Store) UpdateSummaryContent(ctx context.Context, id, content, pdfURL string, legalArea, caseStrength, urgency *string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE summaries SET
			content       = $2,
			pdf_url       = $3,
			legal_area    = COALESCE($4, legal_area),
			case_strength = COALESCE($5, case_strength),
			urgency       = COALESCE($6, urgency),
			updated_at    = NOW()
		WHERE id = $1
		RETURNING `+summaryColumns,
		id, content, pdfURL, legalArea, caseStrength, urgency)
	return scanSummary(row)
}

func (s *Store) SetSummaryPDFURL(ctx context.Context, id, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE summaries SET pdf_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("failed to set pdf url: %w", err)
	}
	return nil
}

func (s *Store) DeleteSummary(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
