package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
)

func newStreamFixture() (*fakeEventStore, *Stream) {
	store := &fakeEventStore{
		user: &database.User{ID: "user-1", Locale: "de", IsActive: true},
	}
	s := NewStream(staticVerifier{userID: "user-1"}, store, monitoring.NewTestMetrics(),
		config.EventsTuning{PollIntervalMs: 10})
	return store, s
}

// serve runs the handler with a deadline so the poll loop terminates the way
// a disconnecting client would.
func serve(t *testing.T, s *Stream, req *http.Request, wait time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(req.Context(), wait)
	defer cancel()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestStreamRequiresToken(t *testing.T) {
	_, s := newStreamFixture()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/subscribe", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestStreamRejectsUnknownUser(t *testing.T) {
	store, s := newStreamFixture()
	store.user = nil

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/subscribe?token=valid-token", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown user")
}

func TestStreamRejectsDisabledAccount(t *testing.T) {
	store, s := newStreamFixture()
	store.user.IsActive = false

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/subscribe?token=valid-token", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "account disabled")
}

func TestStreamDeliversPendingNotifications(t *testing.T) {
	store, s := newStreamFixture()
	store.pending = []*database.Notification{
		{ID: "n-2", UserID: "user-1", Type: database.NotifySummaryReady,
			Title: "Zusammenfassung erstellt", Body: "SUM-20250115-0AB12 steht bereit.",
			Payload: []byte(`{"summary_id":"sum-1"}`)},
		{ID: "n-1", UserID: "user-1", Type: database.NotifyLawyerResponse,
			Title: "Antwort erhalten", Body: "Eine Kanzlei hat geantwortet."},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events/subscribe?token=valid-token", nil)
	rec := serve(t, s, req, 100*time.Millisecond)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	// The handshake event opens every stream.
	assert.True(t, strings.HasPrefix(body, "event: connected\ndata: {\"status\":\"connected\"}\n\n"))

	assert.Contains(t, body, "event: summary_ready\n")
	assert.Contains(t, body, `"title":"Zusammenfassung erstellt"`)
	assert.Contains(t, body, `"message":"SUM-20250115-0AB12 steht bereit."`)
	assert.Contains(t, body, `"data":{"summary_id":"sum-1"}`)
	assert.Contains(t, body, "event: lawyer_response\n")

	// Delivery order is newest first, matching the poll query.
	assert.Less(t, strings.Index(body, "summary_ready"), strings.Index(body, "lawyer_response"))

	// Each event is marked read right after its flush.
	assert.Equal(t, []string{"n-2", "n-1"}, store.marked)
}

func TestStreamMarksReadAfterDelivery(t *testing.T) {
	store, s := newStreamFixture()
	store.pending = []*database.Notification{
		{ID: "n-1", UserID: "user-1", Type: database.NotifyCaseUpdated, Title: "Fall aktualisiert", Body: "…"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events/subscribe?token=valid-token", nil)
	rec := serve(t, s, req, 100*time.Millisecond)

	// A marked notification never re-delivers on later ticks.
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: case_updated"))
	assert.Equal(t, []string{"n-1"}, store.marked)
}

func TestStreamReportsPollFailure(t *testing.T) {
	store, s := newStreamFixture()
	store.listErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodGet, "/api/events/subscribe?token=valid-token", nil)
	rec := serve(t, s, req, 200*time.Millisecond)

	assert.Contains(t, rec.Body.String(), "event: error\ndata: {\"error\":\"internal error\"}\n\n")
}

// ============================================================================
// FAKES
// ============================================================================

type staticVerifier struct {
	userID string
}

func (v staticVerifier) VerifyToken(token string) (string, error) {
	if token != "valid-token" {
		return "", errors.New("invalid token")
	}
	return v.userID, nil
}

type fakeEventStore struct {
	user    *database.User
	pending []*database.Notification
	listErr error
	marked  []string
}

func (s *fakeEventStore) GetUser(_ context.Context, id string) (*database.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, database.ErrNotFound
	}
	return s.user, nil
}

func (s *fakeEventStore) ListUnreadNotifications(_ context.Context, userID string) ([]*database.Notification, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*database.Notification
	for _, n := range s.pending {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeEventStore) MarkNotificationsRead(_ context.Context, ids []string) error {
	for _, id := range ids {
		for _, n := range s.pending {
			if n.ID == id {
				n.Read = true
			}
		}
		s.marked = append(s.marked, id)
	}
	return nil
}
