// Package chat owns the duplex dialogue channel: it authenticates the
// socket, serializes turns per conversation and drives each user message
// through the remote agent pipeline.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anwado/backend/internal/agent"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/summary"
)

var logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)

const generateSummaryTool = "generate_summary"

// maxFunctionDepth bounds post-stream reentrancy: the initial function call
// plus one continuation round.
const maxFunctionDepth = 2

// Store is the slice of the database surface a turn touches.
type Store interface {
	GetConversation(ctx context.Context, id string) (*database.Conversation, error)
	GetUser(ctx context.Context, id string) (*database.User, error)
	BindRemoteConversation(ctx context.Context, id, remoteID string) error
	SetCurrentAgent(ctx context.Context, id, agent string) error
	SetWrapupConfirmed(ctx context.Context, id string) error
	UpdateFacts(ctx context.Context, id string, upd database.FactsUpdate) error
	InsertMessage(ctx context.Context, m database.NewMessage) (*database.Message, error)
	GetOwnedDocuments(ctx context.Context, userID string, ids []string) ([]*database.Document, error)
	SetOCRStatus(ctx context.Context, id, status string) error
	SetOCRText(ctx context.Context, id, text string) error
}

// Sender delivers outbound frames to the connected client.
type Sender interface {
	Send(f Frame) error
}

// SummaryGenerator runs the artifact pipeline when a generate_summary call
// is intercepted.
type SummaryGenerator interface {
	Generate(ctx context.Context, conversationID string, payload *summary.GeneratePayload) (*database.Summary, error)
}

// BlobReader fetches stored document bytes for the lazy OCR path.
type BlobReader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// TextExtractor turns document bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, filename, mimeType string, data []byte) (string, error)
}

// Orchestrator drives one dialogue turn end to end: materialize attachments,
// persist the user message, stream the remote agents, intercept function
// calls, persist the reply.
type Orchestrator struct {
	store        Store
	agents       Agents
	summaries    SummaryGenerator
	blobs        BlobReader
	ocr          TextExtractor
	initialAgent string
}

func NewOrchestrator(store Store, agents Agents, summaries SummaryGenerator, blobs BlobReader, ocr TextExtractor, initialAgent string) *Orchestrator {
	return &Orchestrator{
		store:        store,
		agents:       agents,
		summaries:    summaries,
		blobs:        blobs,
		ocr:          ocr,
		initialAgent: initialAgent,
	}
}

// turnState accumulates one turn. A single function-call slot is tracked;
// argument fragments for the same call id concatenate, a new id replaces the
// slot.
type turnState struct {
	out      Sender
	conv     *database.Conversation
	remoteID string
	agent    string
	text     strings.Builder
	call     pendingCall
	recorded *pendingCall // the call the post-stream phase handled, for the message row
	failed   bool         // platform reported response-error; turn over, socket stays open
}

type pendingCall struct {
	id   string
	name string
	args string
}

func (t *turnState) send(f Frame) error { return t.out.Send(f) }

func (t *turnState) accumulateCall(ev agent.Event) {
	if ev.CallID != t.call.id {
		t.call = pendingCall{id: ev.CallID, name: ev.Name}
	}
	if ev.Name != "" {
		t.call.name = ev.Name
	}
	t.call.args += ev.Arguments
}

// Turn processes one inbound payload. Malformed frames are answered in-band
// and return nil; a non-nil return means the session must close with an
// internal-error code. Any error frame owed to the client has already been
// sent by the time Turn returns.
func (o *Orchestrator) Turn(ctx context.Context, out Sender, conversationID string, raw []byte) error {
	// Protocol-level rejections are answered in-band and keep the session
	// alive; only a failed send (client gone) ends it.
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Type != "message" {
		return out.Send(errorFrame(CodeUnknownMessageType, "unsupported frame type"))
	}
	if strings.TrimSpace(in.Content) == "" {
		return out.Send(errorFrame(CodeEmptyMessage, "message content must not be empty"))
	}

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		out.Send(errorFrame(CodeConversationError, "conversation unavailable"))
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	locale := "de"
	if user, err := o.store.GetUser(ctx, conv.UserID); err == nil {
		locale = user.Locale
	}

	docs := o.materializeDocuments(ctx, conv.UserID, in.DocumentIDs)
	docIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		docIDs = append(docIDs, d.ID)
	}

	// The row stores the literal text; only the remote agent sees the
	// augmented body. Persistence failures abort before any chunk is sent.
	if _, err := o.store.InsertMessage(ctx, database.NewMessage{
		ConversationID: conversationID,
		UserID:         conv.UserID,
		Role:           database.RoleUser,
		Content:        in.Content,
		DocumentIDs:    docIDs,
	}); err != nil {
		out.Send(errorFrame(CodeInternalError, "failed to record message"))
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	body := languageDirective(locale) + buildTurnBody(docs, in.Content)
	input := []agent.MessageInput{{Role: database.RoleUser, Content: body}}

	turn := &turnState{out: out, conv: conv, agent: normalizeLabel(conv.CurrentAgent)}

	var stream EventStream
	if conv.RemoteConversationID == nil {
		stream, err = o.agents.StartStream(ctx, o.initialAgent, input)
	} else {
		turn.remoteID = *conv.RemoteConversationID
		stream, err = o.agents.AppendStream(ctx, turn.remoteID, input)
	}
	if err != nil {
		out.Send(errorFrame(CodeAgentProcessingError, "agent platform unavailable"))
		return fmt.Errorf("failed to open agent stream: %w", err)
	}

	if err := turn.send(Frame{Type: FrameAgentStart, Agent: turn.agent}); err != nil {
		stream.Close()
		return err
	}

	if err := o.consumeStream(ctx, turn, stream); err != nil {
		return err
	}
	if err := o.postStream(ctx, turn, 0); err != nil {
		return err
	}
	if turn.failed {
		return nil
	}

	return o.finishTurn(ctx, turn)
}

// consumeStream applies the remote events to the turn until the stream
// completes. Returned errors are fatal to the session.
func (o *Orchestrator) consumeStream(ctx context.Context, turn *turnState, stream EventStream) error {
	defer stream.Close()

	for ev := range stream.Events() {
		switch ev.Type {
		case agent.EventConversationCreated:
			if turn.remoteID == "" && ev.ConversationID != "" {
				turn.remoteID = ev.ConversationID
				// The handle must be durable before anything else is
				// processed, or the next turn would restart the dialogue
				// with amnesia.
				if err := o.store.BindRemoteConversation(ctx, turn.conv.ID, ev.ConversationID); err != nil {
					return fmt.Errorf("failed to bind remote conversation: %w", err)
				}
			}

		case agent.EventMessageDelta:
			if ev.Agent != "" {
				turn.agent = normalizeLabel(ev.Agent)
			}
			turn.text.WriteString(ev.Text)
			if err := turn.send(Frame{Type: FrameMessageChunk, Agent: turn.agent, Content: ev.Text}); err != nil {
				return err
			}

		case agent.EventAgentHandoff:
			from, to := normalizeLabel(ev.FromAgent), normalizeLabel(ev.Agent)
			turn.agent = to
			if err := turn.send(Frame{Type: FrameAgentHandoff, FromAgent: from, ToAgent: to}); err != nil {
				return err
			}
			if err := turn.send(Frame{Type: FrameAgentStart, Agent: to}); err != nil {
				return err
			}
			if isWrapupLabel(to) {
				if err := turn.send(Frame{Type: FrameWrapupReady, ConversationID: turn.conv.ID}); err != nil {
					return err
				}
				if err := o.store.SetWrapupConfirmed(ctx, turn.conv.ID); err != nil {
					logger.Printf("failed to confirm wrapup for %s: %v", turn.conv.ID, err)
				}
			}

		case agent.EventToolExecution:
			if err := turn.send(Frame{Type: FrameToolExecution, Tool: ev.Tool}); err != nil {
				return err
			}

		case agent.EventFunctionCall:
			turn.accumulateCall(ev)
			if err := turn.send(Frame{
				Type:       FrameFunctionCall,
				ToolCallID: ev.CallID,
				Function:   ev.Name,
				Arguments:  ev.Arguments,
			}); err != nil {
				return err
			}

		case agent.EventError:
			turn.failed = true
			return turn.send(errorFrame(CodeConversationError, ev.Err))

		case agent.EventInterrupted:
			turn.send(errorFrame(CodeAgentProcessingError, ev.Err))
			return errors.New("agent stream interrupted")

		case agent.EventDone:
			return nil
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if turn.failed {
		return nil
	}
	turn.send(errorFrame(CodeAgentProcessingError, "agent stream ended unexpectedly"))
	return errors.New("agent stream ended without completion")
}

// postStream resolves an accumulated function call: generate_summary is
// intercepted into the artifact pipeline, everything else is a
// data-collection signal that only needs acknowledgment. Either way the
// agent receives a success stub and its continuation is consumed, one
// reentrant round at most.
func (o *Orchestrator) postStream(ctx context.Context, turn *turnState, depth int) error {
	if turn.call.id == "" || turn.failed || depth >= maxFunctionDepth {
		return nil
	}
	call := turn.call
	turn.call = pendingCall{}
	turn.recorded = &call

	var payload *summary.GeneratePayload
	isSummary := call.name == generateSummaryTool
	if isSummary {
		payload = summary.ParsePayload(call.args)
		if err := turn.send(Frame{Type: FrameSummaryGenerating, ConversationID: turn.conv.ID}); err != nil {
			return err
		}
	} else {
		o.recordCollectedData(ctx, turn.conv.ID, call.args)
	}

	if turn.remoteID == "" {
		return errors.New("function call without a remote conversation handle")
	}

	// No tool runs locally; declared tools only carry data out of the
	// dialogue.
	stub := agent.FunctionResult(call.id, `{"status":"success"}`)
	stream, err := o.agents.AppendStream(ctx, turn.remoteID, []agent.MessageInput{stub})
	if err != nil {
		turn.send(errorFrame(CodeAgentProcessingError, "agent continuation failed"))
		return fmt.Errorf("failed to continue after function call: %w", err)
	}
	if err := o.consumeStream(ctx, turn, stream); err != nil {
		return err
	}

	if isSummary && !turn.failed {
		if err := o.emitSummary(ctx, turn, payload); err != nil {
			return err
		}
	}

	return o.postStream(ctx, turn, depth+1)
}

// emitSummary runs the pipeline and reports the outcome in-band. Pipeline
// failures do not end the session.
func (o *Orchestrator) emitSummary(ctx context.Context, turn *turnState, payload *summary.GeneratePayload) error {
	sm, err := o.summaries.Generate(ctx, turn.conv.ID, payload)
	if err != nil {
		logger.Printf("summary generation failed for %s: %v", turn.conv.ID, err)
		return turn.send(Frame{Type: FrameSummaryError, Error: "summary generation failed"})
	}
	return turn.send(Frame{
		Type:            FrameSummaryReady,
		ConversationID:  turn.conv.ID,
		SummaryID:       sm.ID,
		ReferenceNumber: sm.ReferenceNumber,
		PDFURL:          sm.PDFURL,
	})
}

// recordCollectedData persists 5W facts and classification fields found in
// tool arguments onto the conversation. Unknown keys are ignored.
func (o *Orchestrator) recordCollectedData(ctx context.Context, conversationID, args string) {
	var data struct {
		Who          json.RawMessage `json:"who"`
		What         json.RawMessage `json:"what"`
		When         json.RawMessage `json:"when"`
		Where        json.RawMessage `json:"where"`
		Why          json.RawMessage `json:"why"`
		LegalArea    string          `json:"legal_area"`
		CaseStrength string          `json:"case_strength"`
		Urgency      string          `json:"urgency"`
	}
	if err := json.Unmarshal([]byte(args), &data); err != nil {
		logger.Printf("ignoring undecodable tool arguments: %v", err)
		return
	}

	upd := database.FactsUpdate{
		Who:   nonNull(data.Who),
		What:  nonNull(data.What),
		When:  nonNull(data.When),
		Where: nonNull(data.Where),
		Why:   nonNull(data.Why),
	}
	if data.LegalArea != "" {
		upd.LegalArea = &data.LegalArea
	}
	if data.CaseStrength != "" {
		upd.CaseStrength = &data.CaseStrength
	}
	if data.Urgency != "" {
		upd.Urgency = &data.Urgency
	}
	if upd.LegalArea != nil || upd.CaseStrength != nil || upd.Urgency != nil {
		done := true
		upd.AnalysisDone = &done
	}
	if upd.Empty() {
		return
	}
	if err := o.store.UpdateFacts(ctx, conversationID, upd); err != nil {
		logger.Printf("failed to record collected case data for %s: %v", conversationID, err)
	}
}

func nonNull(m json.RawMessage) json.RawMessage {
	if len(m) == 0 || string(m) == "null" {
		return nil
	}
	return m
}

// finishTurn persists the assistant reply and closes the turn with
// message_complete.
func (o *Orchestrator) finishTurn(ctx context.Context, turn *turnState) error {
	content := turn.text.String()
	label := turn.agent

	var functionCall []byte
	if turn.recorded != nil {
		functionCall, _ = json.Marshal(map[string]string{
			"name":      turn.recorded.name,
			"arguments": turn.recorded.args,
		})
	}

	msg, err := o.store.InsertMessage(ctx, database.NewMessage{
		ConversationID: turn.conv.ID,
		UserID:         turn.conv.UserID,
		Role:           database.RoleAssistant,
		Content:        content,
		AgentName:      &label,
		FunctionCall:   functionCall,
	})
	if err != nil {
		turn.send(errorFrame(CodeInternalError, "failed to record reply"))
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}

	if err := o.store.SetCurrentAgent(ctx, turn.conv.ID, label); err != nil {
		logger.Printf("failed to update current agent for %s: %v", turn.conv.ID, err)
	}

	return turn.send(Frame{
		Type:      FrameMessageComplete,
		MessageID: msg.ID,
		Content:   content,
		Agent:     label,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
	})
}
