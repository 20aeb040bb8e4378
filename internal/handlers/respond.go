// Package handlers implements the REST surface of the intake backend. Every
// handler is a closure over its dependencies; ownership of path resources is
// enforced here, not in the store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/anwado/backend/internal/auth"
	"github.com/anwado/backend/internal/database"
)

var logger = log.New(log.Writer(), "[API] ", log.LstdFlags)

// Store is the slice of the database surface the REST handlers use.
// *database.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	CreateConversation(ctx context.Context, userID, title, initialAgent string) (*database.Conversation, error)
	GetConversation(ctx context.Context, id string) (*database.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*database.Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd database.ConversationUpdate) (*database.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]*database.Message, error)

	InsertDocument(ctx context.Context, d database.NewDocument) (*database.Document, error)
	GetDocument(ctx context.Context, id string) (*database.Document, error)
	ListConversationDocuments(ctx context.Context, conversationID string) ([]*database.Document, error)
	MarkUploaded(ctx context.Context, id, storageKey, downloadURL string) (*database.Document, error)
	MarkUploadFailed(ctx context.Context, id string) error
	SetOCRStatus(ctx context.Context, id, status string) error
	SetOCRText(ctx context.Context, id, text string) error
	UpdateDocumentFilename(ctx context.Context, id, filename string) (*database.Document, error)
	SetDocumentURL(ctx context.Context, id, url string) error
	DeleteDocument(ctx context.Context, id string) error

	GetSummary(ctx context.Context, id string) (*database.Summary, error)
	GetSummaryByConversation(ctx context.Context, conversationID string) (*database.Summary, error)
	ListSummaries(ctx context.Context, userID string) ([]*database.Summary, error)

	InsertLawyerConnection(ctx context.Context, n database.NewLawyerConnection) (*database.LawyerConnection, error)
	ListLawyerConnections(ctx context.Context, userID string) ([]*database.LawyerConnection, error)
	BindExternalCase(ctx context.Context, id, externalCaseID string) error

	GetUser(ctx context.Context, id string) (*database.User, error)
	UpdatePushToken(ctx context.Context, userID, token string) error
	UpdateProfile(ctx context.Context, userID string, upd database.ProfileUpdate) (*database.User, error)

	DeltaSince(ctx context.Context, userID string, since time.Time) (*database.SyncDelta, error)

	Ping(ctx context.Context) error
}

// Blobs is the object-store surface the handlers use.
type Blobs interface {
	Upload(ctx context.Context, key, contentType string, data io.Reader) error
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, keys ...string) error
}

// Extractor performs OCR on an uploaded document.
type Extractor interface {
	Extract(ctx context.Context, filename, mimeType string, data []byte) (string, error)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// currentUser reads the authenticated user id placed by the auth middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// internalError logs the cause and answers with an opaque 500.
func internalError(w http.ResponseWriter, op string, err error) {
	logger.Printf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeBody parses a JSON request body into v. A syntactically broken body
// is the caller's fault, nothing else is accepted either.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ownedConversation loads a conversation and applies the ownership rule:
// an unknown id is not found, a foreign one is forbidden.
func ownedConversation(w http.ResponseWriter, r *http.Request, store Store, userID, id string) (*database.Conversation, bool) {
	conv, err := store.GetConversation(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		internalError(w, "load conversation", err)
		return nil, false
	}
	if conv.UserID != userID {
		writeError(w, http.StatusForbidden, "conversation belongs to another user")
		return nil, false
	}
	return conv, true
}

// ownedDocument mirrors ownedConversation for documents.
func ownedDocument(w http.ResponseWriter, r *http.Request, store Store, userID, id string) (*database.Document, bool) {
	doc, err := store.GetDocument(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	if err != nil {
		internalError(w, "load document", err)
		return nil, false
	}
	if doc.UserID != userID {
		writeError(w, http.StatusForbidden, "document belongs to another user")
		return nil, false
	}
	return doc, true
}

// ownedSummary mirrors ownedConversation for summaries.
func ownedSummary(w http.ResponseWriter, r *http.Request, store Store, userID, id string) (*database.Summary, bool) {
	sm, err := store.GetSummary(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "summary not found")
		return nil, false
	}
	if err != nil {
		internalError(w, "load summary", err)
		return nil, false
	}
	if sm.UserID != userID {
		writeError(w, http.StatusForbidden, "summary belongs to another user")
		return nil, false
	}
	return sm, true
}
