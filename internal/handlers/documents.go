package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
)

// multipartMemory caps the in-memory share of a parsed upload; bigger bodies
// spill to temp files.
const multipartMemory = 4 << 20

// ocrDeadline bounds one background extraction.
const ocrDeadline = 3 * time.Minute

// blobKey is the canonical object-store location of an uploaded document.
func blobKey(userID, conversationID, documentID, filename string) string {
	return fmt.Sprintf("users/%s/conversations/%s/documents/%s/%s",
		userID, conversationID, documentID, filename)
}

func mimeAllowed(allowed []string, mimeType string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// HandleUploadDocument ingests a multipart upload: validate, persist the row,
// write the blob, then kick off OCR in the background. Form fields:
// file, conversation_id, perform_ocr (optional, default true).
func HandleUploadDocument(
	store Store,
	blobs Blobs,
	ocr Extractor,
	metrics *monitoring.Metrics,
	uploads config.UploadsTuning,
	urlExpiry time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest, "expected multipart form data")
			return
		}
		defer r.MultipartForm.RemoveAll()

		conversationID := r.FormValue("conversation_id")
		if conversationID == "" {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}
		performOCR := true
		if v := r.FormValue("perform_ocr"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				performOCR = parsed
			}
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		filename := filepath.Base(header.Filename)
		if filename == "" || filename == "." || filename == "/" {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest, "filename is required")
			return
		}
		mimeType := header.Header.Get("Content-Type")
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
		if !mimeAllowed(uploads.AllowedMimeTypes, mimeType) {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest,
				"unsupported file type, allowed: "+strings.Join(uploads.AllowedMimeTypes, ", "))
			return
		}
		if header.Size > uploads.MaxSizeBytes {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("file exceeds the maximum size of %d bytes", uploads.MaxSizeBytes))
			return
		}

		if _, ok := ownedConversation(w, r, store, userID, conversationID); !ok {
			metrics.RecordUpload("rejected")
			return
		}

		// The whole file is needed twice (blob write + OCR input), and it is
		// bounded at 10 MiB, so buffering is fine.
		data, err := io.ReadAll(io.LimitReader(file, uploads.MaxSizeBytes+1))
		if err != nil {
			metrics.RecordUpload("failed")
			internalError(w, "read upload", err)
			return
		}
		if int64(len(data)) > uploads.MaxSizeBytes {
			metrics.RecordUpload("rejected")
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("file exceeds the maximum size of %d bytes", uploads.MaxSizeBytes))
			return
		}

		doc, err := store.InsertDocument(r.Context(), database.NewDocument{
			UserID:         userID,
			ConversationID: conversationID,
			Filename:       filename,
			MimeType:       mimeType,
			SizeBytes:      int64(len(data)),
			OCRRequested:   performOCR,
		})
		if err != nil {
			metrics.RecordUpload("failed")
			internalError(w, "insert document", err)
			return
		}

		key := blobKey(userID, conversationID, doc.ID, filename)
		if err := blobs.Upload(r.Context(), key, mimeType, bytes.NewReader(data)); err != nil {
			logger.Printf("blob upload for document %s failed: %v", doc.ID, err)
			if markErr := store.MarkUploadFailed(r.Context(), doc.ID); markErr != nil {
				logger.Printf("failed to mark upload %s failed: %v", doc.ID, markErr)
			}
			metrics.RecordUpload("failed")
			writeError(w, http.StatusBadGateway, "failed to store document")
			return
		}

		url, err := blobs.SignedURL(r.Context(), key, urlExpiry)
		if err != nil {
			logger.Printf("failed to sign url for document %s: %v", doc.ID, err)
		}
		doc, err = store.MarkUploaded(r.Context(), doc.ID, key, url)
		if err != nil {
			metrics.RecordUpload("failed")
			internalError(w, "complete upload", err)
			return
		}
		metrics.RecordUpload("completed")

		if performOCR && ocr != nil {
			go extractInBackground(store, ocr, metrics, doc.ID, filename, mimeType, data)
		}

		writeJSON(w, http.StatusCreated, doc)
	}
}

// extractInBackground runs OCR after the upload response has gone out. An
// extraction failure parks the document in ocr_status=failed; the chat
// orchestrator retries lazily when the document is first referenced.
func extractInBackground(store Store, ocr Extractor, metrics *monitoring.Metrics, docID, filename, mimeType string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), ocrDeadline)
	defer cancel()

	if err := store.SetOCRStatus(ctx, docID, database.OCRProcessing); err != nil {
		logger.Printf("failed to mark document %s processing: %v", docID, err)
	}

	text, err := ocr.Extract(ctx, filename, mimeType, data)
	metrics.RecordOCR(err)
	if err != nil {
		logger.Printf("ocr for document %s failed: %v", docID, err)
		if setErr := store.SetOCRStatus(ctx, docID, database.OCRFailed); setErr != nil {
			logger.Printf("failed to mark document %s failed: %v", docID, setErr)
		}
		return
	}
	if err := store.SetOCRText(ctx, docID, text); err != nil {
		logger.Printf("failed to store ocr text for document %s: %v", docID, err)
	}
}

// HandleGetDocument returns one document; ?refresh_url=true re-signs the
// download URL when the blob exists.
func HandleGetDocument(store Store, blobs Blobs, urlExpiry time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		doc, ok := ownedDocument(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh_url"))
		if refresh && doc.StorageKey != nil {
			url, err := blobs.SignedURL(r.Context(), *doc.StorageKey, urlExpiry)
			if err != nil {
				writeError(w, http.StatusBadGateway, "failed to refresh download url")
				return
			}
			if err := store.SetDocumentURL(r.Context(), doc.ID, url); err != nil {
				internalError(w, "store download url", err)
				return
			}
			doc.DownloadURL = &url
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// HandleListConversationDocuments lists all documents attached to one owned
// conversation.
func HandleListConversationDocuments(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		documents, err := store.ListConversationDocuments(r.Context(), conv.ID)
		if err != nil {
			internalError(w, "list documents", err)
			return
		}
		if documents == nil {
			documents = []*database.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"documents": documents,
			"total":     len(documents),
		})
	}
}

// HandleUpdateDocument renames a document. The blob keeps its key; only the
// row changes.
func HandleUpdateDocument(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Filename string `json:"filename"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		filename := filepath.Base(strings.TrimSpace(req.Filename))
		if filename == "" || filename == "." || filename == "/" {
			writeError(w, http.StatusBadRequest, "filename must not be empty")
			return
		}

		doc, ok := ownedDocument(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		updated, err := store.UpdateDocumentFilename(r.Context(), doc.ID, filename)
		if err != nil {
			internalError(w, "rename document", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// HandleDeleteDocument removes the blob (best effort) and then the row.
func HandleDeleteDocument(store Store, blobs Blobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		doc, ok := ownedDocument(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		if doc.StorageKey != nil {
			if err := blobs.Remove(r.Context(), *doc.StorageKey); err != nil {
				logger.Printf("failed to remove blob for document %s: %v", doc.ID, err)
			}
		}
		if err := store.DeleteDocument(r.Context(), doc.ID); err != nil {
			internalError(w, "delete document", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": doc.ID})
	}
}
