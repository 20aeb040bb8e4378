// Package events pushes queued notifications to connected clients over a
// per-user server-sent event stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
)

var logger = log.New(log.Writer(), "[EVENTS] ", log.LstdFlags)

// Store is the notification surface the stream polls.
type Store interface {
	GetUser(ctx context.Context, id string) (*database.User, error)
	ListUnreadNotifications(ctx context.Context, userID string) ([]*database.Notification, error)
	MarkNotificationsRead(ctx context.Context, ids []string) error
}

// Verifier checks the query-parameter credential; EventSource clients cannot
// set headers.
type Verifier interface {
	VerifyToken(token string) (string, error)
}

// Stream serves the subscribe endpoint: it polls the user's unread
// notifications once per tick and emits each as one SSE event.
type Stream struct {
	auth    Verifier
	store   Store
	metrics *monitoring.Metrics
	poll    time.Duration
}

func NewStream(auth Verifier, store Store, metrics *monitoring.Metrics, cfg config.EventsTuning) *Stream {
	return &Stream{
		auth:    auth,
		store:   store,
		metrics: metrics,
		poll:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		httpError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		httpError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if !user.IsActive {
		httpError(w, http.StatusForbidden, "account disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.metrics.StreamClients.Inc()
	defer s.metrics.StreamClients.Dec()
	logger.Printf("stream opened for user %s", userID)
	defer logger.Printf("stream closed for user %s", userID)

	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.deliverPending(ctx, w, flusher, userID); err != nil {
				if ctx.Err() == nil {
					logger.Printf("delivery failed for user %s: %v", userID, err)
					fmt.Fprint(w, "event: error\ndata: {\"error\":\"internal error\"}\n\n")
					flusher.Flush()
				}
				return
			}
		}
	}
}

// deliverPending emits each unread notification, newest first, and commits
// its read mark before advancing. The mark lands after the flush, so
// delivery is at-least-once and clients must tolerate duplicate ids.
func (s *Stream) deliverPending(ctx context.Context, w io.Writer, flusher http.Flusher, userID string) error {
	pending, err := s.store.ListUnreadNotifications(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to poll notifications: %w", err)
	}
	for _, n := range pending {
		if err := writeEvent(w, n); err != nil {
			return err
		}
		flusher.Flush()
		if err := s.store.MarkNotificationsRead(ctx, []string{n.ID}); err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		s.metrics.NotificationsDelivered.Inc()
	}
	return nil
}

// writeEvent frames one notification: "event:" names the type, "data:"
// carries the JSON body, a blank line terminates.
func writeEvent(w io.Writer, n *database.Notification) error {
	payload := struct {
		Type    string          `json:"type"`
		Title   string          `json:"title"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}{n.Type, n.Title, n.Body, n.Payload}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification %s: %w", n.ID, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, data)
	return err
}

func httpError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
