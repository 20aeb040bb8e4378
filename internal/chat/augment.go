package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/anwado/backend/internal/database"
)

// attachmentPreface precedes extracted document content so the agents treat
// it as case material rather than the user speaking.
const attachmentPreface = "The user attached documents to this message. " +
	"Their extracted content follows; treat it as supporting case material."

// buildTurnBody assembles the augmented prompt for one turn. Without
// documents the body is the user's literal text. With documents, each one
// contributes an extracted-content block (or a fallback line when nothing
// could be extracted) and the literal text moves under its own delimiter.
func buildTurnBody(docs []*database.Document, userText string) string {
	if len(docs) == 0 {
		return userText
	}

	var b strings.Builder
	b.WriteString(attachmentPreface)
	b.WriteString("\n\n")
	for _, d := range docs {
		if d.OCRText != nil && strings.TrimSpace(*d.OCRText) != "" {
			fmt.Fprintf(&b, "--- BEGIN EXTRACTED CONTENT FROM '%s' ---\n", d.Filename)
			b.WriteString(strings.TrimSpace(*d.OCRText))
			b.WriteString("\n--- END EXTRACTED CONTENT ---\n\n")
		} else {
			fmt.Fprintf(&b, "[File attached: %s] (No text content could be extracted)\n\n", d.Filename)
		}
	}
	b.WriteString("--- USER'S REQUEST ---\n")
	b.WriteString(userText)
	return b.String()
}

// languageDirective picks the reply-language instruction from the user's
// stored locale. German is the product default.
func languageDirective(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "en") {
		return "Respond in English.\n\n"
	}
	return "Antworte auf Deutsch.\n\n"
}

// materializeDocuments loads the referenced documents that belong to the user
// and resolves missing OCR text on first use. Unknown or foreign ids are
// dropped silently.
func (o *Orchestrator) materializeDocuments(ctx context.Context, userID string, ids []string) []*database.Document {
	if len(ids) == 0 {
		return nil
	}
	docs, err := o.store.GetOwnedDocuments(ctx, userID, ids)
	if err != nil {
		logger.Printf("failed to materialize documents: %v", err)
		return nil
	}
	for _, d := range docs {
		if d.OCRStatus == database.OCRPending {
			o.extractText(ctx, d)
		}
	}
	return docs
}

// extractText runs the lazy OCR path against an already-stored document.
// On failure the document is marked failed and the turn proceeds with the
// fallback line.
func (o *Orchestrator) extractText(ctx context.Context, d *database.Document) {
	if d.UploadStatus != database.UploadCompleted || d.StorageKey == nil {
		return
	}
	if err := o.store.SetOCRStatus(ctx, d.ID, database.OCRProcessing); err != nil {
		logger.Printf("failed to mark document %s processing: %v", d.ID, err)
		return
	}

	err := func() error {
		data, err := o.blobs.Download(ctx, *d.StorageKey)
		if err != nil {
			return err
		}
		text, err := o.ocr.Extract(ctx, d.Filename, d.MimeType, data)
		if err != nil {
			return err
		}
		if err := o.store.SetOCRText(ctx, d.ID, text); err != nil {
			return err
		}
		d.OCRText = &text
		d.OCRStatus = database.OCRCompleted
		return nil
	}()
	if err != nil {
		logger.Printf("ocr failed for document %s: %v", d.ID, err)
		if serr := o.store.SetOCRStatus(ctx, d.ID, database.OCRFailed); serr != nil {
			logger.Printf("failed to mark document %s failed: %v", d.ID, serr)
		}
		d.OCRStatus = database.OCRFailed
	}
}
