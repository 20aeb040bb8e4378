package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anwado/backend/internal/anwalt"
	"github.com/anwado/backend/internal/database"
)

// Directory is the lawyer-directory surface the handlers use.
// *anwalt.Client satisfies it.
type Directory interface {
	Search(ctx context.Context, legalArea, location string) ([]anwalt.Lawyer, error)
	Handoff(ctx context.Context, h anwalt.HandoffRequest) (*anwalt.HandoffResult, error)
}

// HandleLawyerSearch proxies a directory query.
// GET /api/v1/anwalt/search?legal_area=&location=
func HandleLawyerSearch(directory Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(w, r); !ok {
			return
		}

		lawyers, err := directory.Search(r.Context(),
			r.URL.Query().Get("legal_area"), r.URL.Query().Get("location"))
		if errors.Is(err, anwalt.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "lawyer directory is not configured")
			return
		}
		if err != nil {
			logger.Printf("lawyer search failed: %v", err)
			writeError(w, http.StatusBadGateway, "lawyer directory is unavailable")
			return
		}
		if lawyers == nil {
			lawyers = []anwalt.Lawyer{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lawyers": lawyers,
			"total":   len(lawyers),
		})
	}
}

// HandleLawyerConnect records the client's choice of lawyer and forwards the
// case to the directory. The forward is best effort: when it fails the
// connection stays pending and a later retry can pick it up.
func HandleLawyerConnect(store Store, directory Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			ConversationID string `json:"conversation_id"`
			LawyerID       string `json:"lawyer_id"`
			LawyerName     string `json:"lawyer_name"`
			Message        string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ConversationID == "" || req.LawyerID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id and lawyer_id are required")
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, req.ConversationID)
		if !ok {
			return
		}

		// The summary is optional: a client may contact a lawyer before the
		// dossier exists. When present it travels with the handoff.
		var summaryID *string
		var referenceNumber, summaryURL string
		if sm, err := store.GetSummaryByConversation(r.Context(), conv.ID); err == nil {
			summaryID = &sm.ID
			referenceNumber = sm.ReferenceNumber
			summaryURL = sm.PDFURL
		} else if !errors.Is(err, database.ErrNotFound) {
			internalError(w, "load summary", err)
			return
		}

		var message *string
		if m := strings.TrimSpace(req.Message); m != "" {
			message = &m
		}
		conn, err := store.InsertLawyerConnection(r.Context(), database.NewLawyerConnection{
			UserID:         userID,
			ConversationID: conv.ID,
			SummaryID:      summaryID,
			LawyerID:       req.LawyerID,
			LawyerName:     strings.TrimSpace(req.LawyerName),
			Message:        message,
		})
		if err != nil {
			internalError(w, "create lawyer connection", err)
			return
		}

		forwarded := false
		if user, err := store.GetUser(r.Context(), userID); err == nil {
			handoff := anwalt.HandoffRequest{
				LawyerID:        req.LawyerID,
				ReferenceNumber: referenceNumber,
				ClientName:      user.FullName,
				ClientEmail:     user.Email,
				Message:         req.Message,
				SummaryURL:      summaryURL,
			}
			if conv.LegalArea != nil {
				handoff.LegalArea = *conv.LegalArea
			}
			result, err := directory.Handoff(r.Context(), handoff)
			if err != nil {
				logger.Printf("handoff for connection %s failed, staying pending: %v", conn.ID, err)
			} else if result.CaseID != "" {
				if err := store.BindExternalCase(r.Context(), conn.ID, result.CaseID); err != nil {
					logger.Printf("failed to bind case id for connection %s: %v", conn.ID, err)
				} else {
					conn.ExternalCaseID = &result.CaseID
					forwarded = true
				}
			}
		} else {
			logger.Printf("skipping handoff for connection %s, user load failed: %v", conn.ID, err)
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"connection": conn,
			"forwarded":  forwarded,
		})
	}
}

// HandleListConnections lists the caller's lawyer connections.
func HandleListConnections(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		connections, err := store.ListLawyerConnections(r.Context(), userID)
		if err != nil {
			internalError(w, "list lawyer connections", err)
			return
		}
		if connections == nil {
			connections = []*database.LawyerConnection{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"connections": connections,
			"total":       len(connections),
		})
	}
}
