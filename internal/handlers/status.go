package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anwado/backend/internal/config"
)

// HandleHealth is the unauthenticated liveness probe.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HandleStatus reports readiness: database reachability plus which optional
// collaborators are configured. Degraded deployments are visible here before
// a client trips over them.
func HandleStatus(store Store, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(w, r); !ok {
			return
		}

		dbStatus := "ok"
		status := http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			logger.Printf("database ping failed: %v", err)
			dbStatus = "unreachable"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, map[string]interface{}{
			"status":   dbStatus,
			"time":     time.Now().UTC().Format(time.RFC3339),
			"database": dbStatus,
			"dependencies": map[string]bool{
				"agent_platform":   cfg.Agent.BaseURL != "",
				"ocr":              cfg.OCR.BaseURL != "",
				"storage":          cfg.Storage.URL != "",
				"redis":            cfg.Redis.Addr != "",
				"smtp":             cfg.SMTP.Configured(),
				"lawyer_directory": cfg.Directory.BaseURL != "",
			},
		})
	}
}

// HandleAgentStatus reports the configured agent roster so a client can
// label the dialogue UI.
func HandleAgentStatus(agents config.AgentsTuning) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(w, r); !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"initial": agents.Initial,
			"labels":  agents.Labels,
		})
	}
}

// HandleConversationStatus reports the intake progress flags of one owned
// conversation.
func HandleConversationStatus(store Store) http.HandlerFunc {
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

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conversation_id":   conv.ID,
			"status":            conv.Status,
			"current_agent":     conv.CurrentAgent,
			"analysis_done":     conv.AnalysisDone,
			"wrapup_confirmed":  conv.WrapupConfirmed,
			"summary_generated": conv.SummaryGenerated,
			"message_count":     len(messages),
			"updated_at":        conv.UpdatedAt,
		})
	}
}
