package handlers

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anwado/backend/internal/agent"
	"github.com/anwado/backend/internal/blob"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
	"github.com/anwado/backend/internal/summary"
)

// memRunner stands in for the agent platform when the pipeline composes the
// dossier server-side.
type memRunner struct {
	markdown string
	err      error
}

func (r *memRunner) Run(_ context.Context, _ string, _ []agent.MessageInput) (*agent.RunResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.markdown == "" {
		return &agent.RunResult{}, nil
	}
	return &agent.RunResult{Text: "```markdown\n" + r.markdown + "\n```"}, nil
}

type summaryFixture struct {
	store  *memStore
	blobs  *memBlobs
	runner *memRunner
	svc    *summary.Service
}

func newSummaryFixture(t *testing.T) *summaryFixture {
	t.Helper()
	fx := &summaryFixture{
		store:  newMemStore(),
		blobs:  newMemBlobs(),
		runner: &memRunner{markdown: "# Fallzusammenfassung\n\nFristlose Kündigung, Details geklärt."},
	}
	fx.store.addUser("user-1", "max@example.com", "Max Mustermann")
	conv := fx.store.addConversation("conv-1", "user-1", "Kündigung prüfen")
	legalArea := "arbeitsrecht"
	conv.LegalArea = &legalArea
	fx.store.addMessage("conv-1", database.RoleUser, "Mir wurde fristlos gekündigt.")
	fx.store.addMessage("conv-1", database.RoleAssistant, "Wann haben Sie das Schreiben erhalten?")
	fx.svc = summary.NewService(fx.store, fx.blobs, fx.runner, 15*time.Minute)
	return fx
}

// ============================================================================
// GENERATE
// ============================================================================

func TestGenerateSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	h := HandleGenerateSummary(fx.store, fx.svc, monitoring.NewTestMetrics())

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "conv-1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var sm database.Summary
	decodeJSON(t, rec, &sm)
	assert.Regexp(t, regexp.MustCompile(`^SUM-\d{8}-[A-Z0-9]{5}$`), sm.ReferenceNumber)
	assert.Contains(t, sm.Content, "# Fallzusammenfassung")
	assert.Contains(t, sm.PDFURL, "https://signed.example/summaries/")

	conv, err := fx.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.SummaryGenerated)
	assert.Equal(t, database.ConversationCompleted, conv.Status)

	require.Len(t, fx.store.notifications, 1)
	assert.Equal(t, database.NotifySummaryReady, fx.store.notifications[0].Type)

	// The endpoint is idempotent: a second call returns the same dossier.
	rec = serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "conv-1"}))
	require.Equal(t, http.StatusOK, rec.Code)
	var again database.Summary
	decodeJSON(t, rec, &again)
	assert.Equal(t, sm.ID, again.ID)
	assert.Len(t, fx.store.notifications, 1, "no second notification")
}

func TestGenerateSummaryValidation(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.store.addConversation("conv-2", "user-2", "Fremder Fall")
	h := HandleGenerateSummary(fx.store, fx.svc, monitoring.NewTestMetrics())

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{}))
	assertError(t, rec, http.StatusBadRequest, "conversation_id is required")

	rec = serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "missing"}))
	assertError(t, rec, http.StatusNotFound, "conversation not found")

	rec = serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "conv-2"}))
	assertError(t, rec, http.StatusForbidden, "conversation belongs to another user")
}

func TestGenerateSummaryNoContent(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.runner.markdown = ""
	h := HandleGenerateSummary(fx.store, fx.svc, monitoring.NewTestMetrics())

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "conv-1"}))

	assertError(t, rec, http.StatusBadGateway, "the summary agent produced no content")
}

func TestGenerateSummaryStorageUnconfigured(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.blobs.uploadErr = blob.ErrNotConfigured
	h := HandleGenerateSummary(fx.store, fx.svc, monitoring.NewTestMetrics())

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/generate",
		map[string]string{"conversation_id": "conv-1"}))

	assertError(t, rec, http.StatusServiceUnavailable, "document storage is not configured")
}

// ============================================================================
// READ
// ============================================================================

func TestListSummariesEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	fx.store.addSummary("sum-2", "conv-5", "user-1", "SUM-20250210-BBBBB")
	fx.store.addSummary("sum-3", "conv-9", "user-2", "SUM-20250210-CCCCC")
	h := HandleListSummaries(fx.store)

	rec := serve(h, jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summaries []*database.Summary `json:"summaries"`
		Total     int                 `json:"total"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Summaries, 2)
	assert.Equal(t, "SUM-20250210-AAAAA", body.Summaries[0].ReferenceNumber)
}

func TestListSummariesEmpty(t *testing.T) {
	h := HandleListSummaries(newMemStore())

	rec := serve(h, jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summaries":[]`)
}

func TestGetSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	fx.store.addSummary("sum-2", "conv-9", "user-2", "SUM-20250210-CCCCC")
	h := HandleGetSummary(fx.store)

	req := withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/sum-1", nil), "sum-1")
	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sm database.Summary
	decodeJSON(t, rec, &sm)
	assert.Equal(t, "SUM-20250210-AAAAA", sm.ReferenceNumber)

	req = withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/missing", nil), "missing")
	assertError(t, serve(h, req), http.StatusNotFound, "summary not found")

	req = withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/sum-2", nil), "sum-2")
	assertError(t, serve(h, req), http.StatusForbidden, "summary belongs to another user")
}

func TestConversationSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	fx.store.addConversation("conv-2", "user-1", "Noch offen")
	h := HandleConversationSummary(fx.store)

	req := withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/conversation/conv-1", nil), "conv-1")
	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sm database.Summary
	decodeJSON(t, rec, &sm)
	assert.Equal(t, "sum-1", sm.ID)

	req = withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/conversation/conv-2", nil), "conv-2")
	assertError(t, serve(h, req), http.StatusNotFound, "conversation has no summary yet")
}

func TestSummaryPDFEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	sm := fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	h := HandleSummaryPDF(fx.store, fx.svc)

	req := withID(jsonRequest(t, "user-1", http.MethodGet, "/api/v1/summaries/sum-1/pdf", nil), "sum-1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "https://signed.example/"+sm.PDFKey, body["pdf_url"])
	assert.Equal(t, "SUM-20250210-AAAAA", body["reference_number"])
}

// ============================================================================
// UPDATE, REGENERATE, DELETE
// ============================================================================

func TestUpdateSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	sm := fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	h := HandleUpdateSummary(fx.store, fx.svc)

	req := withID(jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/summaries/sum-1",
		map[string]string{"content": "# Korrigiert\n\nVom Mandanten angepasst."}), "sum-1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var updated database.Summary
	decodeJSON(t, rec, &updated)
	assert.Equal(t, "# Korrigiert\n\nVom Mandanten angepasst.", updated.Content)

	// Both artifacts were rewritten in place.
	assert.Equal(t, []byte("# Korrigiert\n\nVom Mandanten angepasst."), fx.blobs.objects[sm.MarkdownKey])
	assert.True(t, len(fx.blobs.objects[sm.PDFKey]) > 0, "pdf re-rendered")

	req = withID(jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/summaries/sum-1",
		map[string]string{"content": "   "}), "sum-1")
	assertError(t, serve(h, req), http.StatusBadRequest, "content must not be empty")
}

func TestRegenerateSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	fx.runner.markdown = "# Neu erstellt\n\nZweiter Durchlauf."
	h := HandleRegenerateSummary(fx.store, fx.svc, monitoring.NewTestMetrics())

	req := withID(jsonRequest(t, "user-1", http.MethodPost, "/api/v1/summaries/sum-1/regenerate", nil), "sum-1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var updated database.Summary
	decodeJSON(t, rec, &updated)
	assert.Equal(t, "sum-1", updated.ID)
	assert.Equal(t, "SUM-20250210-AAAAA", updated.ReferenceNumber, "identity survives regeneration")
	assert.Contains(t, updated.Content, "# Neu erstellt")
}

func TestDeleteSummaryEndpoint(t *testing.T) {
	fx := newSummaryFixture(t)
	sm := fx.store.addSummary("sum-1", "conv-1", "user-1", "SUM-20250210-AAAAA")
	h := HandleDeleteSummary(fx.store, fx.svc)

	req := withID(jsonRequest(t, "user-1", http.MethodDelete, "/api/v1/summaries/sum-1", nil), "sum-1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "deleted", body["status"])
	assert.Equal(t, "sum-1", body["id"])
	assert.Equal(t, []string{sm.MarkdownKey, sm.PDFKey}, fx.blobs.removed)

	_, err := fx.store.GetSummary(context.Background(), "sum-1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
