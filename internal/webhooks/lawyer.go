// Package webhooks receives callbacks from the lawyer directory.
package webhooks

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/mail"
	"github.com/anwado/backend/internal/monitoring"
)

var logger = log.New(log.Writer(), "[WEBHOOK] ", log.LstdFlags)

// secretHeader carries the shared secret agreed with the directory.
const secretHeader = "X-Webhook-Secret"

// Store is the database surface the webhook needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*database.User, error)
	GetConversation(ctx context.Context, id string) (*database.Conversation, error)
	FindConnection(ctx context.Context, userID, conversationID, lawyerID string) (*database.LawyerConnection, error)
	RecordLawyerResponse(ctx context.Context, id, status, lawyerName string, externalCaseID *string, respondedAt *time.Time) (*database.LawyerConnection, error)
	InsertNotification(ctx context.Context, n database.NewNotification) (*database.Notification, error)
}

// LawyerHandler accepts lawyer-response events pushed by the external
// directory when a lawyer reacts to a forwarded case.
type LawyerHandler struct {
	store   Store
	mailer  mail.Mailer
	metrics *monitoring.Metrics
	secret  string
	linkURL string
}

func NewLawyerHandler(store Store, mailer mail.Mailer, metrics *monitoring.Metrics, secret, linkURL string) *LawyerHandler {
	return &LawyerHandler{
		store:   store,
		mailer:  mailer,
		metrics: metrics,
		secret:  secret,
		linkURL: strings.TrimRight(linkURL, "/"),
	}
}

// lawyerResponse is the directory's payload. The directory sends numeric
// ids for its own entities, so case_id and lawyer_id accept both JSON
// numbers and strings and are echoed back into the notification unchanged.
type lawyerResponse struct {
	CaseID            json.RawMessage `json:"case_id"`
	ConversationID    string          `json:"conversation_id"`
	UserID            string          `json:"user_id"`
	LawyerID          json.RawMessage `json:"lawyer_id"`
	LawyerName        string          `json:"lawyer_name"`
	ResponseText      string          `json:"response_text"`
	ResponseTimestamp string          `json:"response_timestamp"`
}

// ServeHTTP handles POST /api/v1/webhooks/lawyer-response.
//
// The connection row update is conditional: a response for a case that was
// never forwarded (or whose connection was deleted) still produces the
// notification, because the user should see the reply either way.
func (h *LawyerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r.Header.Get(secretHeader)) {
		h.metrics.RecordWebhook("unauthorized")
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var p lawyerResponse
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.metrics.RecordWebhook("invalid")
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	lawyerID := idString(p.LawyerID)
	if p.ConversationID == "" || p.UserID == "" || lawyerID == "" {
		h.metrics.RecordWebhook("invalid")
		writeError(w, http.StatusBadRequest, "conversation_id, user_id and lawyer_id are required")
		return
	}

	ctx := r.Context()

	user, err := h.store.GetUser(ctx, p.UserID)
	if errors.Is(err, database.ErrNotFound) {
		h.metrics.RecordWebhook("not_found")
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.internal(w, "resolve user", err)
		return
	}

	conv, err := h.store.GetConversation(ctx, p.ConversationID)
	if errors.Is(err, database.ErrNotFound) {
		h.metrics.RecordWebhook("not_found")
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.internal(w, "resolve conversation", err)
		return
	}
	if conv.UserID != user.ID {
		h.metrics.RecordWebhook("forbidden")
		writeError(w, http.StatusForbidden, "conversation does not belong to user")
		return
	}

	if err := h.recordResponse(ctx, user.ID, conv.ID, lawyerID, &p); err != nil {
		h.internal(w, "record lawyer response", err)
		return
	}

	notification, err := h.notify(ctx, user, conv.ID, &p)
	if err != nil {
		h.internal(w, "queue notification", err)
		return
	}

	emailSent := h.sendMail(ctx, user, conv.ID, &p)

	h.metrics.RecordWebhook("accepted")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "success",
		"notification_id": notification.ID,
		"email_sent":      emailSent,
	})
}

// authorized checks the shared secret. An empty configured secret accepts
// any caller (development). A bcrypt digest ($2 prefix) is verified as a
// hash; anything else is compared in constant time.
func (h *LawyerHandler) authorized(presented string) bool {
	if h.secret == "" {
		return true
	}
	if strings.HasPrefix(h.secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(h.secret), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(h.secret), []byte(presented)) == 1
}

// recordResponse moves the matching connection to accepted. No matching
// connection is not an error; the directory may replay events for rows the
// user already removed.
func (h *LawyerHandler) recordResponse(ctx context.Context, userID, conversationID, lawyerID string, p *lawyerResponse) error {
	conn, err := h.store.FindConnection(ctx, userID, conversationID, lawyerID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Printf("no connection for conversation %s lawyer %s, recording response without one", conversationID, lawyerID)
		return nil
	}
	if err != nil {
		return err
	}

	var caseID *string
	if s := idString(p.CaseID); s != "" {
		caseID = &s
	}
	var respondedAt *time.Time
	if t, err := time.Parse(time.RFC3339, p.ResponseTimestamp); err == nil {
		respondedAt = &t
	}

	_, err = h.store.RecordLawyerResponse(ctx, conn.ID, database.ConnectionAccepted, p.LawyerName, caseID, respondedAt)
	return err
}

func (h *LawyerHandler) notify(ctx context.Context, user *database.User, conversationID string, p *lawyerResponse) (*database.Notification, error) {
	title, body := notificationText(user.Locale, p.LawyerName)

	payload, err := json.Marshal(map[string]interface{}{
		"case_id":            rawOrNull(p.CaseID),
		"conversation_id":    conversationID,
		"lawyer_id":          rawOrNull(p.LawyerID),
		"lawyer_name":        p.LawyerName,
		"response_text":      p.ResponseText,
		"response_timestamp": p.ResponseTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification payload: %w", err)
	}

	return h.store.InsertNotification(ctx, database.NewNotification{
		UserID:  user.ID,
		Type:    database.NotifyLawyerResponse,
		Title:   title,
		Body:    body,
		Payload: payload,
	})
}

// sendMail delivers the response by email, best effort. The returned flag
// feeds the email_sent field of the webhook response.
func (h *LawyerHandler) sendMail(ctx context.Context, user *database.User, conversationID string, p *lawyerResponse) bool {
	subject, body := mailText(user.Locale, user.FullName, p.LawyerName, p.ResponseText,
		h.linkURL+"/conversations/"+conversationID)
	if err := h.mailer.Send(ctx, user.Email, subject, body); err != nil {
		logger.Printf("failed to mail lawyer response to %s: %v", user.Email, err)
		return false
	}
	return true
}

func (h *LawyerHandler) internal(w http.ResponseWriter, op string, err error) {
	logger.Printf("failed to %s: %v", op, err)
	h.metrics.RecordWebhook("error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func notificationText(locale, lawyerName string) (title, body string) {
	if strings.HasPrefix(strings.ToLower(locale), "de") {
		name := lawyerName
		if name == "" {
			name = "Ihr Anwalt"
		}
		return "Antwort von Ihrem Anwalt",
			fmt.Sprintf("%s hat auf Ihre Anfrage geantwortet.", name)
	}
	name := lawyerName
	if name == "" {
		name = "Your lawyer"
	}
	return "Your lawyer responded",
		fmt.Sprintf("%s responded to your request.", name)
}

func mailText(locale, fullName, lawyerName, responseText, link string) (subject, body string) {
	if strings.HasPrefix(strings.ToLower(locale), "de") {
		name := lawyerName
		if name == "" {
			name = "Ihr Anwalt"
		}
		subject = fmt.Sprintf("Neue Antwort von %s zu Ihrem Fall", name)
		body = fmt.Sprintf("Guten Tag %s,\n\n%s hat auf Ihre Anfrage geantwortet:\n\n%s\n\nDie vollständige Antwort finden Sie in der App:\n%s\n\nIhr Anwado-Team",
			fullName, name, responseText, link)
		return subject, body
	}
	name := lawyerName
	if name == "" {
		name = "Your lawyer"
	}
	subject = fmt.Sprintf("New response from %s on your case", name)
	body = fmt.Sprintf("Hello %s,\n\n%s responded to your request:\n\n%s\n\nThe full response is available in the app:\n%s\n\nYour Anwado team",
		fullName, name, responseText, link)
	return subject, body
}

// idString renders an id that may arrive as a JSON number or string.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// rawOrNull keeps the caller's JSON form intact inside the notification
// payload; an absent field becomes an explicit null.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
