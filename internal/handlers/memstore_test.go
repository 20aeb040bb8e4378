package handlers

// In-memory fixtures shared by the handler tests. memStore implements both
// the REST store surface and the summary pipeline's store, so one fake backs
// every handler. Methods lock because the upload handler extracts OCR text on
// a background goroutine.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anwado/backend/internal/auth"
	"github.com/anwado/backend/internal/database"
)

var fixedNow = time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC)

// ============================================================================
// REQUEST HELPERS
// ============================================================================

// authed stamps the request context the way the auth middleware would.
func authed(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithUserID(r.Context(), userID))
}

// jsonRequest builds an authenticated request with a JSON body.
func jsonRequest(t *testing.T, userID, method, target string, body interface{}) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	return authed(httptest.NewRequest(method, target, rd), userID)
}

// withID injects the {id} path variable the router would extract.
func withID(r *http.Request, id string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"id": id})
}

// serve runs one handler against a recorded response.
func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v),
		"response body: %s", rec.Body.String())
}

// assertError checks status code and the {"error": ...} envelope.
func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, message, body["error"])
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

type memStore struct {
	mu sync.Mutex

	users         map[string]*database.User
	conversations map[string]*database.Conversation
	messages      map[string][]*database.Message
	documents     map[string]*database.Document
	summaries     map[string]*database.Summary
	connections   map[string]*database.LawyerConnection
	notifications []*database.Notification

	seq int

	// error injection
	listConversationsErr error
	deltaErr             error
	pingErr              error

	// recorded calls
	syncedSince []time.Time
	delta       *database.SyncDelta
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[string]*database.User{},
		conversations: map[string]*database.Conversation{},
		messages:      map[string][]*database.Message{},
		documents:     map[string]*database.Document{},
		summaries:     map[string]*database.Summary{},
		connections:   map[string]*database.LawyerConnection{},
	}
}

// ---- seeding ----

func (m *memStore) addUser(id, email, fullName string) *database.User {
	u := &database.User{
		ID: id, Email: email, FullName: fullName,
		Locale: "de", IsActive: true, IsVerified: true,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.users[id] = u
	return u
}

func (m *memStore) addConversation(id, userID, title string) *database.Conversation {
	c := &database.Conversation{
		ID: id, UserID: userID, Title: title,
		Status: database.ConversationActive, CurrentAgent: "intake_agent",
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.conversations[id] = c
	return c
}

func (m *memStore) addMessage(conversationID, role, content string) *database.Message {
	m.seq++
	msg := &database.Message{
		ID:             fmt.Sprintf("msg-%d", m.seq),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      fixedNow,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return msg
}

func (m *memStore) addDocument(id, userID, conversationID, filename string) *database.Document {
	key := blobKey(userID, conversationID, id, filename)
	url := "https://signed.example/" + key
	d := &database.Document{
		ID: id, UserID: userID, ConversationID: conversationID,
		Filename: filename, MimeType: "application/pdf", SizeBytes: 123,
		StorageKey: &key, DownloadURL: &url,
		UploadStatus: database.UploadCompleted, OCRStatus: database.OCRCompleted,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.documents[id] = d
	return d
}

func (m *memStore) addSummary(id, conversationID, userID, ref string) *database.Summary {
	s := &database.Summary{
		ID: id, ConversationID: conversationID, UserID: userID,
		Content:         "# Fallzusammenfassung\n\nInhalt.",
		ReferenceNumber: ref,
		MarkdownKey:     "summaries/" + ref + ".md",
		PDFKey:          "summaries/" + ref + ".pdf",
		PDFURL:          "https://signed.example/summaries/" + ref + ".pdf",
		CreatedAt:       fixedNow, UpdatedAt: fixedNow,
	}
	m.summaries[id] = s
	return s
}

func (m *memStore) addConnection(id, userID, conversationID, lawyerID, lawyerName string) *database.LawyerConnection {
	c := &database.LawyerConnection{
		ID: id, UserID: userID, ConversationID: conversationID,
		LawyerID: lawyerID, LawyerName: lawyerName,
		Status:    database.ConnectionPending,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.connections[id] = c
	return c
}

// document returns a snapshot, safe to poll while background OCR runs.
func (m *memStore) document(id string) database.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		return *d
	}
	return database.Document{}
}

func cloneDoc(d *database.Document) *database.Document {
	c := *d
	return &c
}

// ---- conversations ----

func (m *memStore) CreateConversation(_ context.Context, userID, title, initialAgent string) (*database.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c := &database.Conversation{
		ID: fmt.Sprintf("conv-%d", m.seq), UserID: userID, Title: title,
		Status: database.ConversationActive, CurrentAgent: initialAgent,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.conversations[c.ID] = c
	return c, nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*database.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListConversations(_ context.Context, userID string) ([]*database.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listConversationsErr != nil {
		return nil, m.listConversationsErr
	}
	var out []*database.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateConversation(_ context.Context, id string, upd database.ConversationUpdate) (*database.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.WrapupConfirmed != nil {
		c.WrapupConfirmed = *upd.WrapupConfirmed
	}
	return c, nil
}

func (m *memStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID string) ([]*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[conversationID], nil
}

// ---- documents ----

func (m *memStore) InsertDocument(_ context.Context, d database.NewDocument) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ocrStatus := database.OCRCompleted
	if d.OCRRequested {
		ocrStatus = database.OCRPending
	}
	m.seq++
	doc := &database.Document{
		ID:     fmt.Sprintf("doc-%d", m.seq),
		UserID: d.UserID, ConversationID: d.ConversationID,
		Filename: d.Filename, MimeType: d.MimeType, SizeBytes: d.SizeBytes,
		UploadStatus: database.UploadUploading, OCRStatus: ocrStatus,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.documents[doc.ID] = doc
	return cloneDoc(doc), nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneDoc(d), nil
}

func (m *memStore) ListConversationDocuments(_ context.Context, conversationID string) ([]*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Document
	for _, d := range m.documents {
		if d.ConversationID == conversationID {
			out = append(out, cloneDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) MarkUploaded(_ context.Context, id, storageKey, downloadURL string) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	d.StorageKey = &storageKey
	d.DownloadURL = &downloadURL
	d.UploadStatus = database.UploadCompleted
	return cloneDoc(d), nil
}

func (m *memStore) MarkUploadFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		d.UploadStatus = database.UploadFailed
	}
	return nil
}

func (m *memStore) SetOCRStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		d.OCRStatus = status
	}
	return nil
}

func (m *memStore) SetOCRText(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		d.OCRText = &text
		d.OCRStatus = database.OCRCompleted
	}
	return nil
}

func (m *memStore) UpdateDocumentFilename(_ context.Context, id, filename string) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	d.Filename = filename
	return cloneDoc(d), nil
}

func (m *memStore) SetDocumentURL(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		d.DownloadURL = &url
	}
	return nil
}

func (m *memStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	return nil
}

// ---- summaries ----

func (m *memStore) GetSummary(_ context.Context, id string) (*database.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetSummaryByConversation(_ context.Context, conversationID string) (*database.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.summaries {
		if s.ConversationID == conversationID {
			return s, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) ListSummaries(_ context.Context, userID string) ([]*database.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Summary
	for _, s := range m.summaries {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertSummary(_ context.Context, n database.NewSummary) (*database.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.summaries {
		if s.ConversationID == n.ConversationID {
			return nil, database.ErrDuplicate
		}
	}
	s := &database.Summary{
		ID: n.ID, ConversationID: n.ConversationID, UserID: n.UserID,
		Content: n.Content, ReferenceNumber: n.ReferenceNumber,
		MarkdownKey: n.MarkdownKey, PDFKey: n.PDFKey, PDFURL: n.PDFURL,
		LegalArea: n.LegalArea, CaseStrength: n.CaseStrength, Urgency: n.Urgency,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.summaries[s.ID] = s
	return s, nil
}

func (m *memStore) UpdateSummaryContent(_ context.Context, id, content, pdfURL string, legalArea, caseStrength, urgency *string) (*database.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	s.Content = content
	s.PDFURL = pdfURL
	if legalArea != nil {
		s.LegalArea = legalArea
	}
	if caseStrength != nil {
		s.CaseStrength = caseStrength
	}
	if urgency != nil {
		s.Urgency = urgency
	}
	return s, nil
}

func (m *memStore) SetSummaryPDFURL(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.summaries[id]; ok {
		s.PDFURL = url
	}
	return nil
}

func (m *memStore) DeleteSummary(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, id)
	return nil
}

func (m *memStore) MarkSummarized(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[conversationID]; ok {
		c.SummaryGenerated = true
		if c.Status == database.ConversationActive {
			c.Status = database.ConversationCompleted
		}
	}
	return nil
}

func (m *memStore) InsertNotification(_ context.Context, n database.NewNotification) (*database.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	note := &database.Notification{
		ID:     fmt.Sprintf("note-%d", m.seq),
		UserID: n.UserID, Type: n.Type, Title: n.Title, Body: n.Body,
		Payload: n.Payload, CreatedAt: fixedNow,
	}
	m.notifications = append(m.notifications, note)
	return note, nil
}

// ---- lawyer connections ----

func (m *memStore) InsertLawyerConnection(_ context.Context, n database.NewLawyerConnection) (*database.LawyerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c := &database.LawyerConnection{
		ID:     fmt.Sprintf("lc-%d", m.seq),
		UserID: n.UserID, ConversationID: n.ConversationID,
		SummaryID: n.SummaryID, LawyerID: n.LawyerID, LawyerName: n.LawyerName,
		Message: n.Message, Status: database.ConnectionPending,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	m.connections[c.ID] = c
	return c, nil
}

func (m *memStore) ListLawyerConnections(_ context.Context, userID string) ([]*database.LawyerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.LawyerConnection
	for _, c := range m.connections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) BindExternalCase(_ context.Context, id, externalCaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[id]; ok && c.ExternalCaseID == nil {
		c.ExternalCaseID = &externalCaseID
	}
	return nil
}

// ---- users, sync, health ----

func (m *memStore) GetUser(_ context.Context, id string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return u, nil
}

func (m *memStore) UpdatePushToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	if token == "" {
		u.PushToken = nil
	} else {
		u.PushToken = &token
	}
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, userID string, upd database.ProfileUpdate) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Address != nil {
		u.Address = upd.Address
	}
	if upd.Locale != nil {
		u.Locale = *upd.Locale
	}
	if upd.Timezone != nil {
		u.Timezone = upd.Timezone
	}
	return u, nil
}

func (m *memStore) DeltaSince(_ context.Context, userID string, since time.Time) (*database.SyncDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncedSince = append(m.syncedSince, since)
	if m.deltaErr != nil {
		return nil, m.deltaErr
	}
	if m.delta != nil {
		return m.delta, nil
	}
	return &database.SyncDelta{ServerTime: fixedNow, DeletedIDs: map[string][]string{}}, nil
}

func (m *memStore) Ping(_ context.Context) error {
	return m.pingErr
}

// ============================================================================
// BLOBS AND OCR
// ============================================================================

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	ctypes    map[string]string
	removed   []string
	uploadErr error
	signErr   error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, ctypes: map[string]string{}}
}

func (b *memBlobs) Upload(_ context.Context, key, contentType string, data io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return b.uploadErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[key] = raw
	b.ctypes[key] = contentType
	return nil
}

func (b *memBlobs) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signErr != nil {
		return "", b.signErr
	}
	return "https://signed.example/" + key, nil
}

func (b *memBlobs) Remove(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.objects, key)
		b.removed = append(b.removed, key)
	}
	return nil
}

type memExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (e *memExtractor) Extract(_ context.Context, filename, _ string, _ []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, filename)
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

func (e *memExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
