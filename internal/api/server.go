// Package api assembles the HTTP surface: REST routes, the WebSocket chat
// endpoint, the SSE notification stream and the infra endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/handlers"
	"github.com/anwado/backend/internal/middleware"
	"github.com/anwado/backend/internal/monitoring"
	"github.com/anwado/backend/internal/summary"
)

// Deps carries everything the router serves. Store, Blobs, OCR and Directory
// are interfaces so routing tests can run against fakes.
type Deps struct {
	Config    *config.Config
	Store     handlers.Store
	Blobs     handlers.Blobs
	OCR       handlers.Extractor
	Directory handlers.Directory
	Auth      middleware.Verifier
	Metrics   *monitoring.Metrics
	Summaries *summary.Service
	Limiter   *middleware.RateLimiter

	// Self-authenticating endpoints (token in query / shared secret).
	Chat    http.Handler
	Events  http.Handler
	Webhook http.Handler
}

// Server owns the assembled router.
type Server struct {
	deps Deps
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the full route table. Matching is registration order, so the
// fixed /conversation/ routes come before their /{id} siblings.
func (s *Server) Router() *mux.Router {
	d := s.deps
	urlExpiry := time.Duration(d.Config.Tuning.Summary.URLExpirySeconds) * time.Second
	uploads := d.Config.Tuning.Uploads

	router := mux.NewRouter()
	router.Use(middleware.CORS, middleware.Logging(d.Metrics))

	// Infra endpoints, unauthenticated.
	router.Handle("/health", handlers.HandleHealth()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// The chat socket authenticates inside the upgrade handshake.
	router.Handle("/ws/chat/{conversation_id}", d.Chat)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(d.Limiter.Middleware)

	// Token-in-query and shared-secret endpoints.
	api.Handle("/events/subscribe", d.Events).Methods(http.MethodGet)
	api.Handle("/webhooks/lawyer-response", d.Webhook).Methods(http.MethodPost)

	secured := api.NewRoute().Subrouter()
	secured.Use(middleware.RequireAuth(d.Auth))

	// Conversations
	secured.Handle("/conversations",
		handlers.HandleCreateConversation(d.Store, d.Config.Tuning.Agents.Initial)).Methods(http.MethodPost)
	secured.Handle("/conversations",
		handlers.HandleListConversations(d.Store)).Methods(http.MethodGet)
	secured.Handle("/conversations/{id}",
		handlers.HandleGetConversation(d.Store)).Methods(http.MethodGet)
	secured.Handle("/conversations/{id}",
		handlers.HandleUpdateConversation(d.Store)).Methods(http.MethodPatch)
	secured.Handle("/conversations/{id}",
		handlers.HandleDeleteConversation(d.Store)).Methods(http.MethodDelete)

	// Documents
	secured.Handle("/documents",
		handlers.HandleUploadDocument(d.Store, d.Blobs, d.OCR, d.Metrics, uploads, urlExpiry)).Methods(http.MethodPost)
	secured.Handle("/documents/conversation/{id}",
		handlers.HandleListConversationDocuments(d.Store)).Methods(http.MethodGet)
	secured.Handle("/documents/{id}",
		handlers.HandleGetDocument(d.Store, d.Blobs, urlExpiry)).Methods(http.MethodGet)
	secured.Handle("/documents/{id}",
		handlers.HandleUpdateDocument(d.Store)).Methods(http.MethodPatch)
	secured.Handle("/documents/{id}",
		handlers.HandleDeleteDocument(d.Store, d.Blobs)).Methods(http.MethodDelete)

	// Summaries
	secured.Handle("/summaries/generate",
		handlers.HandleGenerateSummary(d.Store, d.Summaries, d.Metrics)).Methods(http.MethodPost)
	secured.Handle("/summaries",
		handlers.HandleListSummaries(d.Store)).Methods(http.MethodGet)
	secured.Handle("/summaries/conversation/{id}",
		handlers.HandleConversationSummary(d.Store)).Methods(http.MethodGet)
	secured.Handle("/summaries/{id}/pdf",
		handlers.HandleSummaryPDF(d.Store, d.Summaries)).Methods(http.MethodGet)
	secured.Handle("/summaries/{id}/regenerate",
		handlers.HandleRegenerateSummary(d.Store, d.Summaries, d.Metrics)).Methods(http.MethodPost)
	secured.Handle("/summaries/{id}",
		handlers.HandleGetSummary(d.Store)).Methods(http.MethodGet)
	secured.Handle("/summaries/{id}",
		handlers.HandleUpdateSummary(d.Store, d.Summaries)).Methods(http.MethodPatch)
	secured.Handle("/summaries/{id}",
		handlers.HandleDeleteSummary(d.Store, d.Summaries)).Methods(http.MethodDelete)

	// Lawyer directory
	secured.Handle("/anwalt/search",
		handlers.HandleLawyerSearch(d.Directory)).Methods(http.MethodGet)
	secured.Handle("/anwalt/connect",
		handlers.HandleLawyerConnect(d.Store, d.Directory)).Methods(http.MethodPost)
	secured.Handle("/anwalt/connections",
		handlers.HandleListConnections(d.Store)).Methods(http.MethodGet)

	// Status
	secured.Handle("/status",
		handlers.HandleStatus(d.Store, d.Config)).Methods(http.MethodGet)
	secured.Handle("/status/agents",
		handlers.HandleAgentStatus(d.Config.Tuning.Agents)).Methods(http.MethodGet)
	secured.Handle("/status/conversations/{id}",
		handlers.HandleConversationStatus(d.Store)).Methods(http.MethodGet)

	// Sync
	secured.Handle("/sync",
		handlers.HandleSync(d.Store)).Methods(http.MethodPost)

	// Users
	secured.Handle("/users/push-token",
		handlers.HandleUpdatePushToken(d.Store)).Methods(http.MethodPut)
	secured.Handle("/users/profile",
		handlers.HandleGetProfile(d.Store)).Methods(http.MethodGet)
	secured.Handle("/users/profile",
		handlers.HandleUpdateProfile(d.Store)).Methods(http.MethodPatch)

	return router
}

// HTTPServer wraps the router in an http.Server. No global write timeout:
// the SSE stream and the chat socket stay open for as long as the client
// does. Slow-header attacks are still cut off.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
