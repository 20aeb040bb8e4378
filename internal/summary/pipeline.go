// Package summary runs the case dossier pipeline: it turns a finished intake
// conversation into a Markdown summary, renders the PDF artifact, stores both
// blobs and records the summary row with its reference number.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anwado/backend/internal/agent"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/pdf"
)

var logger = log.New(log.Writer(), "[SUMMARY] ", log.LstdFlags)

// ErrNoContent means neither the intercepted function call nor the summary
// agent produced any markdown to render.
var ErrNoContent = errors.New("no summary content produced")

// Store is the slice of the database surface the pipeline uses.
type Store interface {
	GetConversation(ctx context.Context, id string) (*database.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*database.Message, error)
	GetUser(ctx context.Context, id string) (*database.User, error)
	GetSummary(ctx context.Context, id string) (*database.Summary, error)
	GetSummaryByConversation(ctx context.Context, conversationID string) (*database.Summary, error)
	InsertSummary(ctx context.Context, n database.NewSummary) (*database.Summary, error)
	UpdateSummaryContent(ctx context.Context, id, content, pdfURL string, legalArea, caseStrength, urgency *string) (*database.Summary, error)
	SetSummaryPDFURL(ctx context.Context, id, url string) error
	DeleteSummary(ctx context.Context, id string) error
	MarkSummarized(ctx context.Context, conversationID string) error
	InsertNotification(ctx context.Context, n database.NewNotification) (*database.Notification, error)
}

// Blobs is the object store surface the pipeline uses.
type Blobs interface {
	Upload(ctx context.Context, key, contentType string, data io.Reader) error
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, keys ...string) error
}

// Agents runs a blocking request against the agent platform. Used when the
// summary has to be composed server-side instead of arriving in a
// generate_summary call.
type Agents interface {
	Run(ctx context.Context, agentLabel string, input []agent.MessageInput) (*agent.RunResult, error)
}

// GeneratePayload carries the arguments of a generate_summary function call.
// Every field is optional; whatever is missing gets produced by the summary
// agent or left empty.
type GeneratePayload struct {
	MarkdownSummary    string          `json:"markdown_summary"`
	StructuredCaseData json.RawMessage `json:"structured_case_data"`
	LegalArea          string          `json:"legal_area"`
	CaseStrength       string          `json:"case_strength"`
	Urgency            string          `json:"urgency"`
	Title              string          `json:"title"`
}

// ParsePayload decodes function-call arguments. Malformed or empty arguments
// yield nil; the pipeline then falls back to composing the summary itself.
func ParsePayload(arguments string) *GeneratePayload {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		return nil
	}
	var p GeneratePayload
	if err := json.Unmarshal([]byte(arguments), &p); err != nil {
		logger.Printf("ignoring undecodable generate_summary arguments: %v", err)
		return nil
	}
	return &p
}

// Service orchestrates summary generation. All methods assume the caller has
// already verified conversation or summary ownership.
type Service struct {
	store     Store
	blobs     Blobs
	agents    Agents
	urlExpiry time.Duration
}

func NewService(store Store, blobs Blobs, agents Agents, urlExpiry time.Duration) *Service {
	return &Service{store: store, blobs: blobs, agents: agents, urlExpiry: urlExpiry}
}

// artifactKeys derives the blob keys for a reference number. They are fixed
// for the summary's lifetime.
func artifactKeys(ref string) (md, pdf string) {
	return "summaries/" + ref + ".md", "summaries/" + ref + ".pdf"
}

// Generate produces the dossier for a conversation. It is idempotent: if a
// summary already exists it is returned unchanged. payload may be nil, in
// which case the summary agent composes the markdown from the transcript.
func (s *Service) Generate(ctx context.Context, conversationID string, payload *GeneratePayload) (*database.Summary, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetSummaryByConversation(ctx, conversationID)
	if err == nil {
		// Re-assert the conversation flag so an earlier partial failure
		// heals itself on the next call.
		if !conv.SummaryGenerated {
			if err := s.store.MarkSummarized(ctx, conversationID); err != nil {
				logger.Printf("failed to mark conversation %s summarized: %v", conversationID, err)
			}
		}
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	markdown, cl, err := s.resolveContent(ctx, conv, payload)
	if err != nil {
		return nil, err
	}
	cl = cl.inherit(conv)

	id := uuid.NewString()
	ref := ReferenceNumber(id, time.Now())
	mdKey, pdfKey := artifactKeys(ref)

	pdfURL, err := s.renderAndUpload(ctx, markdown, ref, mdKey, pdfKey)
	if err != nil {
		return nil, err
	}

	// If we lose the insert race the uploaded artifacts belong to nobody;
	// remove them and hand back the row that won.
	sm, err := s.store.InsertSummary(ctx, database.NewSummary{
		ID:              id,
		ConversationID:  conversationID,
		UserID:          conv.UserID,
		Content:         markdown,
		ReferenceNumber: ref,
		MarkdownKey:     mdKey,
		PDFKey:          pdfKey,
		PDFURL:          pdfURL,
		LegalArea:       cl.LegalArea,
		CaseStrength:    cl.CaseStrength,
		Urgency:         cl.Urgency,
	})
	if errors.Is(err, database.ErrDuplicate) {
		if rmErr := s.blobs.Remove(ctx, mdKey, pdfKey); rmErr != nil {
			logger.Printf("failed to remove orphaned artifacts %s: %v", ref, rmErr)
		}
		return s.store.GetSummaryByConversation(ctx, conversationID)
	}
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, mdKey, pdfKey); rmErr != nil {
			logger.Printf("failed to remove orphaned artifacts %s: %v", ref, rmErr)
		}
		return nil, err
	}

	if err := s.store.MarkSummarized(ctx, conversationID); err != nil {
		logger.Printf("failed to mark conversation %s summarized: %v", conversationID, err)
	}
	s.notifyReady(ctx, sm)

	logger.Printf("generated summary %s (%s) for conversation %s", sm.ID, ref, conversationID)
	return sm, nil
}

// Regenerate recomposes the markdown from the current transcript and rewrites
// both artifacts in place. The id, reference number and blob keys survive.
func (s *Service) Regenerate(ctx context.Context, summaryID string) (*database.Summary, error) {
	sm, err := s.store.GetSummary(ctx, summaryID)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, sm.ConversationID)
	if err != nil {
		return nil, err
	}

	markdown, cl, err := s.compose(ctx, conv)
	if err != nil {
		return nil, err
	}

	// The reference number survives regeneration, so the fresh artifacts
	// land on the same keys. Prior blobs are cleared first.
	if err := s.blobs.Remove(ctx, sm.MarkdownKey, sm.PDFKey); err != nil {
		logger.Printf("failed to clear artifacts for summary %s: %v", sm.ID, err)
	}

	updated, err := s.rewrite(ctx, sm, markdown, cl)
	if err != nil {
		return nil, err
	}
	s.notifyReady(ctx, updated)

	logger.Printf("regenerated summary %s (%s)", sm.ID, sm.ReferenceNumber)
	return updated, nil
}

// UpdateContent replaces the markdown with client-edited text and re-renders
// the PDF so the artifacts never drift from the stored content.
func (s *Service) UpdateContent(ctx context.Context, summaryID, content string) (*database.Summary, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoContent
	}
	sm, err := s.store.GetSummary(ctx, summaryID)
	if err != nil {
		return nil, err
	}
	return s.rewrite(ctx, sm, content, classification{})
}

// RefreshPDFURL re-signs the download URL after the previous one expired.
func (s *Service) RefreshPDFURL(ctx context.Context, summaryID string) (string, error) {
	sm, err := s.store.GetSummary(ctx, summaryID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.SignedURL(ctx, sm.PDFKey, s.urlExpiry)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSummaryPDFURL(ctx, summaryID, url); err != nil {
		return "", err
	}
	return url, nil
}

// Delete removes the row and both artifacts. Blob removal is best-effort;
// a storage hiccup must not leave the row behind.
func (s *Service) Delete(ctx context.Context, summaryID string) error {
	sm, err := s.store.GetSummary(ctx, summaryID)
	if err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, sm.MarkdownKey, sm.PDFKey); err != nil {
		logger.Printf("failed to remove artifacts for summary %s: %v", summaryID, err)
	}
	return s.store.DeleteSummary(ctx, summaryID)
}

// classification groups the optional case metadata attached to a summary.
type classification struct {
	LegalArea    *string
	CaseStrength *string
	Urgency      *string
}

// inherit fills gaps from what the conversation already knows.
func (c classification) inherit(conv *database.Conversation) classification {
	if c.LegalArea == nil {
		c.LegalArea = conv.LegalArea
	}
	if c.CaseStrength == nil {
		c.CaseStrength = conv.CaseStrength
	}
	if c.Urgency == nil {
		c.Urgency = conv.Urgency
	}
	return c
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// resolveContent picks the markdown source: an intercepted function call with
// content wins; anything else falls back to composing via the summary agent.
func (s *Service) resolveContent(ctx context.Context, conv *database.Conversation, payload *GeneratePayload) (string, classification, error) {
	if payload != nil && strings.TrimSpace(payload.MarkdownSummary) != "" {
		return strings.TrimSpace(payload.MarkdownSummary), classification{
			LegalArea:    optional(payload.LegalArea),
			CaseStrength: optional(payload.CaseStrength),
			Urgency:      optional(payload.Urgency),
		}, nil
	}
	return s.compose(ctx, conv)
}

// compose asks the summary agent for the dossier markdown, feeding it the
// conversation facts and the full transcript.
func (s *Service) compose(ctx context.Context, conv *database.Conversation) (string, classification, error) {
	messages, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return "", classification{}, err
	}

	locale := "de"
	if user, err := s.store.GetUser(ctx, conv.UserID); err == nil {
		locale = user.Locale
	}

	res, err := s.agents.Run(ctx, "summary", buildAgentInput(conv, messages, locale))
	if err != nil {
		return "", classification{}, fmt.Errorf("failed to compose summary: %w", err)
	}

	// The agent may answer with a generate_summary call of its own; its
	// arguments take precedence over free text.
	if res.FunctionName != "" {
		if p := ParsePayload(res.FunctionArgs); p != nil && strings.TrimSpace(p.MarkdownSummary) != "" {
			return strings.TrimSpace(p.MarkdownSummary), classification{
				LegalArea:    optional(p.LegalArea),
				CaseStrength: optional(p.CaseStrength),
				Urgency:      optional(p.Urgency),
			}, nil
		}
	}

	markdown := extractMarkdown(res.Text)
	if markdown == "" {
		return "", classification{}, ErrNoContent
	}
	return markdown, classification{}, nil
}

// rewrite renders fresh artifacts over the existing blob keys and updates the
// row. Empty classification fields keep their stored values.
func (s *Service) rewrite(ctx context.Context, sm *database.Summary, markdown string, cl classification) (*database.Summary, error) {
	pdfURL, err := s.renderAndUpload(ctx, markdown, sm.ReferenceNumber, sm.MarkdownKey, sm.PDFKey)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateSummaryContent(ctx, sm.ID, markdown, pdfURL, cl.LegalArea, cl.CaseStrength, cl.Urgency)
}

// renderAndUpload produces the PDF, writes both artifacts and signs the
// download URL.
func (s *Service) renderAndUpload(ctx context.Context, markdown, ref, mdKey, pdfKey string) (string, error) {
	doc, err := pdf.Render(markdown, ref)
	if err != nil {
		return "", fmt.Errorf("failed to render pdf for %s: %w", ref, err)
	}
	if err := s.blobs.Upload(ctx, mdKey, "text/markdown", strings.NewReader(markdown)); err != nil {
		return "", err
	}
	if err := s.blobs.Upload(ctx, pdfKey, "application/pdf", bytes.NewReader(doc)); err != nil {
		return "", err
	}
	url, err := s.blobs.SignedURL(ctx, pdfKey, s.urlExpiry)
	if err != nil {
		return "", err
	}
	return url, nil
}

// notifyReady queues the summary_ready push event. Failures are logged and
// swallowed: the summary exists either way and sync will surface it.
func (s *Service) notifyReady(ctx context.Context, sm *database.Summary) {
	locale := "de"
	if user, err := s.store.GetUser(ctx, sm.UserID); err == nil {
		locale = user.Locale
	}
	title, body := notificationText(locale, sm.ReferenceNumber)

	payload, _ := json.Marshal(map[string]string{
		"summary_id":       sm.ID,
		"conversation_id":  sm.ConversationID,
		"reference_number": sm.ReferenceNumber,
	})
	_, err := s.store.InsertNotification(ctx, database.NewNotification{
		UserID:  sm.UserID,
		Type:    database.NotifySummaryReady,
		Title:   title,
		Body:    body,
		Payload: payload,
	})
	if err != nil {
		logger.Printf("failed to queue summary notification for %s: %v", sm.ID, err)
	}
}

func notificationText(locale, ref string) (title, body string) {
	if strings.HasPrefix(strings.ToLower(locale), "de") {
		return "Zusammenfassung erstellt",
			fmt.Sprintf("Die Zusammenfassung Ihres Falls %s steht bereit.", ref)
	}
	return "Case summary ready",
		fmt.Sprintf("The summary of your case %s is ready.", ref)
}

// buildAgentInput assembles the run input: one system block with the case
// facts and instructions, then the dialogue transcript in order.
func buildAgentInput(conv *database.Conversation, messages []*database.Message, locale string) []agent.MessageInput {
	var b strings.Builder
	b.WriteString("Produce the final case summary for the intake conversation below.\n")
	b.WriteString("Answer with the complete summary as Markdown inside a ```markdown code fence.\n")
	if strings.HasPrefix(strings.ToLower(locale), "de") {
		b.WriteString("Write the summary in German.\n")
	} else {
		b.WriteString("Write the summary in English.\n")
	}
	b.WriteString("\nCase title: " + conv.Title + "\n")
	if conv.LegalArea != nil {
		b.WriteString("Legal area: " + *conv.LegalArea + "\n")
	}
	if conv.CaseStrength != nil {
		b.WriteString("Case strength: " + *conv.CaseStrength + "\n")
	}
	if conv.Urgency != nil {
		b.WriteString("Urgency: " + *conv.Urgency + "\n")
	}
	writeFact(&b, "Who", conv.FactWho)
	writeFact(&b, "What", conv.FactWhat)
	writeFact(&b, "When", conv.FactWhen)
	writeFact(&b, "Where", conv.FactWhere)
	writeFact(&b, "Why", conv.FactWhy)

	input := []agent.MessageInput{{Role: database.RoleSystem, Content: b.String()}}
	for _, m := range messages {
		if m.Role == database.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		input = append(input, agent.MessageInput{Role: m.Role, Content: m.Content})
	}
	return input
}

func writeFact(b *strings.Builder, label string, fact json.RawMessage) {
	if len(fact) == 0 || string(fact) == "null" {
		return
	}
	fmt.Fprintf(b, "Fact %s: %s\n", label, fact)
}

// extractMarkdown pulls the summary out of free agent text. A fenced
// ```markdown block wins; otherwise the whole trimmed text is the summary.
func extractMarkdown(text string) string {
	const fence = "```markdown"
	if i := strings.Index(text, fence); i >= 0 {
		rest := text[i+len(fence):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	return strings.TrimSpace(text)
}
