package chat

// The mobile client speaks JSON text frames over the chat socket; "type"
// discriminates on both directions.

// Outbound frame kinds.
const (
	FrameAgentStart        = "agent_start"
	FrameMessageChunk      = "message_chunk"
	FrameMessageComplete   = "message_complete"
	FrameAgentHandoff      = "agent_handoff"
	FrameToolExecution     = "tool_execution"
	FrameFunctionCall      = "function_call"
	FrameWrapupReady       = "wrapup_ready"
	FrameSummaryGenerating = "summary_generating"
	FrameSummaryReady      = "summary_ready"
	FrameSummaryError      = "summary_error"
	FrameError             = "error"
)

// Error codes carried on error frames.
const (
	CodeEmptyMessage         = "empty_message"
	CodeUnknownMessageType   = "unknown_message_type"
	CodeConversationError    = "conversation_error"
	CodeAgentProcessingError = "agent_processing_error"
	CodeInternalError        = "internal_error"
)

// Frame is the outbound union. Fields irrelevant to a kind stay omitted.
type Frame struct {
	Type            string `json:"type"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Agent           string `json:"agent,omitempty"`
	FromAgent       string `json:"from_agent,omitempty"`
	ToAgent         string `json:"to_agent,omitempty"`
	Content         string `json:"content,omitempty"`
	Tool            string `json:"tool,omitempty"`
	ToolCallID      string `json:"tool_call_id,omitempty"`
	Function        string `json:"function,omitempty"`
	Arguments       string `json:"arguments,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	SummaryID       string `json:"summary_id,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	PDFURL          string `json:"pdf_url,omitempty"`
	Error           string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
}

func errorFrame(code, message string) Frame {
	return Frame{Type: FrameError, Code: code, Error: message}
}

// inbound is the client→server frame. Only "message" is understood.
type inbound struct {
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	DocumentIDs []string `json:"document_ids"`
}
