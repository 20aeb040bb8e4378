package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const documentColumns = `id, user_id, conversation_id, filename, mime_type, size_bytes,
	storage_key, download_url, upload_status, ocr_status, ocr_text, created_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.UserID, &d.ConversationID, &d.Filename, &d.MimeType, &d.SizeBytes,
		&d.StorageKey, &d.DownloadURL, &d.UploadStatus, &d.OCRStatus, &d.OCRText,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &d, nil
}

// NewDocument carries the metadata of an incoming upload. The row starts in
// upload_status=uploading; the blob write and the OCR worker move it forward.
// When OCRRequested is false the ocr_status is completed from the start, so
// the document never looks stuck to sync clients.
type NewDocument struct {
	UserID         string
	ConversationID string
	Filename       string
	MimeType       string
	SizeBytes      int64
	OCRRequested   bool
}

func (s *Store) InsertDocument(ctx context.Context, d NewDocument) (*Document, error) {
	ocrStatus := OCRCompleted
	if d.OCRRequested {
		ocrStatus = OCRPending
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, user_id, conversation_id, filename, mime_type, size_bytes, upload_status, ocr_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+documentColumns,
		uuid.NewString(), d.UserID, d.ConversationID, d.Filename, d.MimeType,
		d.SizeBytes, UploadUploading, ocrStatus)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetOwnedDocuments fetches the given ids that belong to userID. Ids that do
// not exist or belong to someone else are simply absent from the result; the
// caller decides whether that matters.
func (s *Store) GetOwnedDocuments(ctx context.Context, userID string, ids []string) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = $1 AND id = ANY($2)`, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListConversationDocuments(ctx context.Context, conversationID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkUploaded completes the upload: key and URL become non-empty together,
// which is the invariant the rest of the pipeline relies on.
func (s *Store) MarkUploaded(ctx context.Context, id, storageKey, downloadURL string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents SET
			storage_key = $2, download_url = $3, upload_status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+documentColumns,
		id, storageKey, downloadURL, UploadCompleted)
	return scanDocument(row)
}

func (s *Store) MarkUploadFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET upload_status = $2, updated_at = NOW() WHERE id = $1`,
		id, UploadFailed)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	return nil
}

func (s *Store) SetOCRStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET ocr_status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set ocr status: %w", err)
	}
	return nil
}

// SetOCRText stores extracted text and completes the OCR state.
func (s *Store) SetOCRText(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET ocr_text = $2, ocr_status = $3, updated_at = NOW() WHERE id = $1`,
		id, text, OCRCompleted)
	if err != nil {
		return fmt.Errorf("failed to set ocr text: %w", err)
	}
	return nil
}

func (s *Store) UpdateDocumentFilename(ctx context.Context, id, filename string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents SET filename = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+documentColumns,
		id, filename)
	return scanDocument(row)
}

func (s *Store) SetDocumentURL(ctx context.Context, id, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET download_url = $2, updated_at = NOW() WHERE id = $1`,
		id, url)
	if err != nil {
		return fmt.Errorf("failed to set download url: %w", err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
