package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anwado/backend/internal/blob"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
	"github.com/anwado/backend/internal/summary"
)

// summaryError maps pipeline failures onto the HTTP surface. Missing content
// is a remote-dependency problem, an unconfigured blob store a deployment one.
func summaryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "summary not found")
	case errors.Is(err, summary.ErrNoContent):
		writeError(w, http.StatusBadGateway, "the summary agent produced no content")
	case errors.Is(err, blob.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "document storage is not configured")
	default:
		internalError(w, op, err)
	}
}

// HandleGenerateSummary runs the artifact pipeline for a conversation.
// Idempotent: a second call returns the existing summary.
func HandleGenerateSummary(store Store, svc *summary.Service, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			ConversationID string `json:"conversation_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, req.ConversationID)
		if !ok {
			return
		}

		start := time.Now()
		sm, err := svc.Generate(r.Context(), conv.ID, nil)
		metrics.RecordSummary("generate", err, time.Since(start).Seconds())
		if err != nil {
			summaryError(w, "generate summary", err)
			return
		}
		writeJSON(w, http.StatusOK, sm)
	}
}

// HandleListSummaries lists the caller's summaries.
func HandleListSummaries(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		summaries, err := store.ListSummaries(r.Context(), userID)
		if err != nil {
			internalError(w, "list summaries", err)
			return
		}
		if summaries == nil {
			summaries = []*database.Summary{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"summaries": summaries,
			"total":     len(summaries),
		})
	}
}

// HandleGetSummary returns one summary.
func HandleGetSummary(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		sm, ok := ownedSummary(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sm)
	}
}

// HandleSummaryPDF re-signs and returns the PDF download URL.
func HandleSummaryPDF(store Store, svc *summary.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		sm, ok := ownedSummary(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		url, err := svc.RefreshPDFURL(r.Context(), sm.ID)
		if err != nil {
			summaryError(w, "refresh pdf url", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"pdf_url":          url,
			"reference_number": sm.ReferenceNumber,
		})
	}
}

// HandleConversationSummary returns the summary of one owned conversation.
func HandleConversationSummary(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		sm, err := store.GetSummaryByConversation(r.Context(), conv.ID)
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation has no summary yet")
			return
		}
		if err != nil {
			internalError(w, "load summary", err)
			return
		}
		writeJSON(w, http.StatusOK, sm)
	}
}

// HandleUpdateSummary replaces the markdown with client-edited content and
// re-renders the PDF artifact.
func HandleUpdateSummary(store Store, svc *summary.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "content must not be empty")
			return
		}

		sm, ok := ownedSummary(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		updated, err := svc.UpdateContent(r.Context(), sm.ID, req.Content)
		if err != nil {
			summaryError(w, "update summary", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// HandleDeleteSummary removes the artifacts (best effort) and the row.
func HandleDeleteSummary(store Store, svc *summary.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		sm, ok := ownedSummary(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), sm.ID); err != nil {
			summaryError(w, "delete summary", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": sm.ID})
	}
}

// HandleRegenerateSummary recomposes the markdown from the current transcript
// and rewrites both artifacts under the same reference number.
func HandleRegenerateSummary(store Store, svc *summary.Service, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		sm, ok := ownedSummary(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		start := time.Now()
		updated, err := svc.Regenerate(r.Context(), sm.ID)
		metrics.RecordSummary("regenerate", err, time.Since(start).Seconds())
		if err != nil {
			summaryError(w, "regenerate summary", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
