package agent

// EventType names the server-sent event kinds the agent platform emits
// while a turn streams.
type EventType string

const (
	// EventConversationCreated carries the remote conversation handle.
	// It is the first event of a newly started conversation.
	EventConversationCreated EventType = "conversation.created"
	// EventMessageDelta carries one text fragment of the reply.
	EventMessageDelta EventType = "message.delta"
	// EventAgentHandoff announces control passing to another agent.
	EventAgentHandoff EventType = "agent.handoff"
	// EventToolExecution announces a server-side tool starting.
	EventToolExecution EventType = "tool.execution"
	// EventFunctionCall carries a (possibly partial) client-side function
	// call. Arguments for one call id may span several events.
	EventFunctionCall EventType = "function.call"
	// EventError is a terminal platform failure for this turn.
	EventError EventType = "response.error"
	// EventDone closes the turn.
	EventDone EventType = "response.completed"

	// EventInterrupted is synthesized locally when the transport drops
	// mid-stream. It is not a wire event.
	EventInterrupted EventType = "stream.interrupted"
)

// Event is one decoded stream event. Fields are populated per type.
type Event struct {
	Type EventType

	ConversationID string // conversation.created
	Agent          string // message.delta, tool.execution; handoff target
	FromAgent      string // agent.handoff
	Text           string // message.delta
	Tool           string // tool.execution
	CallID         string // function.call
	Name           string // function.call
	Arguments      string // function.call, may be a fragment
	Err            string // response.error
}

// wireEvent is the union JSON payload on the wire.
type wireEvent struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Agent          string `json:"agent,omitempty"`
	FromAgent      string `json:"from_agent,omitempty"`
	ToAgent        string `json:"to_agent,omitempty"`
	Text           string `json:"text,omitempty"`
	Tool           string `json:"tool,omitempty"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Arguments      string `json:"arguments,omitempty"`
	Message        string `json:"message,omitempty"`
}
