package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/anwado/backend/internal/database"
)

// defaultConversationTitle names a conversation until the intake agents pick
// a better one or the client renames it.
const defaultConversationTitle = "Neue Anfrage"

// HandleCreateConversation opens a fresh intake conversation for the caller.
func HandleCreateConversation(store Store, initialAgent string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Title string `json:"title"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = defaultConversationTitle
		}

		conv, err := store.CreateConversation(r.Context(), userID, title, initialAgent)
		if err != nil {
			internalError(w, "create conversation", err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

// HandleListConversations lists the caller's conversations, most recently
// active first.
func HandleListConversations(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		conversations, err := store.ListConversations(r.Context(), userID)
		if err != nil {
			internalError(w, "list conversations", err)
			return
		}
		if conversations == nil {
			conversations = []*database.Conversation{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conversations": conversations,
			"total":         len(conversations),
		})
	}
}

// HandleGetConversation returns one conversation together with its ordered
// message history.
func HandleGetConversation(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		messages, err := store.ListMessages(r.Context(), conv.ID)
		if err != nil {
			internalError(w, "list messages", err)
			return
		}
		if messages == nil {
			messages = []*database.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conversation": conv,
			"messages":     messages,
		})
	}
}

// HandleUpdateConversation renames, archives or confirms the wrap-up of a
// conversation. Clients may only move the status to archived; the
// active→completed transition belongs to the summary pipeline.
func HandleUpdateConversation(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Title           *string `json:"title"`
			Status          *string `json:"status"`
			WrapupConfirmed *bool   `json:"wrapup_confirmed"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == nil && req.Status == nil && req.WrapupConfirmed == nil {
			writeError(w, http.StatusBadRequest, "nothing to update")
			return
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		if req.Status != nil && *req.Status != database.ConversationArchived {
			writeError(w, http.StatusBadRequest, "status can only be set to archived")
			return
		}

		if _, ok := ownedConversation(w, r, store, userID, mux.Vars(r)["id"]); !ok {
			return
		}

		conv, err := store.UpdateConversation(r.Context(), mux.Vars(r)["id"], database.ConversationUpdate{
			Title:           req.Title,
			Status:          req.Status,
			WrapupConfirmed: req.WrapupConfirmed,
		})
		if err != nil {
			internalError(w, "update conversation", err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// HandleDeleteConversation removes a conversation; messages, documents and
// the summary follow by cascade.
func HandleDeleteConversation(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		conv, ok := ownedConversation(w, r, store, userID, mux.Vars(r)["id"])
		if !ok {
			return
		}

		if err := store.DeleteConversation(r.Context(), conv.ID); err != nil {
			internalError(w, "delete conversation", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": conv.ID})
	}
}
