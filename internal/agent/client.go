package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anwado/backend/internal/config"
)

var logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)

var (
	// ErrNotConfigured means AGENT_API_URL is absent; every turn fails
	// explicitly instead of hanging.
	ErrNotConfigured = errors.New("agent platform not configured")
	// ErrConversationGone means the platform no longer knows the stored
	// conversation handle. The turn fails; the handle is deliberately kept
	// so the condition stays visible instead of silently restarting the
	// dialogue with amnesia.
	ErrConversationGone = errors.New("remote conversation no longer exists")
)

// MessageInput is one entry of a turn's input. Plain messages carry Role and
// Content; function results are posted in-band with Type "function_result".
type MessageInput struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Output  string `json:"output,omitempty"`
}

// FunctionResult builds the success stub posted back after the backend
// intercepts a function call.
func FunctionResult(callID, output string) MessageInput {
	return MessageInput{Type: "function_result", CallID: callID, Output: output}
}

// RunResult is the final, non-streaming output of a Run call.
type RunResult struct {
	Text         string `json:"output_text"`
	FunctionName string `json:"-"`
	FunctionArgs string `json:"-"`
}

// Client talks to the agent platform. Streaming calls return a Stream of
// decoded events; Run performs a blocking request used by the summary
// pipeline.
type Client struct {
	cfg  config.AgentConfig
	http *http.Client
}

func NewClient(cfg config.AgentConfig) *Client {
	// No overall client timeout: turns stream for as long as the model
	// talks. Only the wait for response headers is bounded.
	transport := &http.Transport{
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
	}
}

// StartStream opens a new remote conversation routed to the given agent and
// streams the first turn.
func (c *Client) StartStream(ctx context.Context, agentLabel string, input []MessageInput) (*Stream, error) {
	url := fmt.Sprintf("%s/v1/libraries/%s/agents/%s/conversations",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.LibraryID, agentLabel)
	return c.openStream(ctx, url, input)
}

// AppendStream continues the remote conversation identified by remoteID.
func (c *Client) AppendStream(ctx context.Context, remoteID string, input []MessageInput) (*Stream, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s/messages",
		strings.TrimRight(c.cfg.BaseURL, "/"), remoteID)
	return c.openStream(ctx, url, input)
}

func (c *Client) openStream(ctx context.Context, url string, input []MessageInput) (*Stream, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]interface{}{
		"input":  input,
		"stream": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent platform: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		resp.Body.Close()
		return nil, ErrConversationGone
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent platform returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	stream := &Stream{
		events: make(chan Event, 16),
		body:   resp.Body,
	}
	go stream.consume(ctx)
	return stream, nil
}

// Run executes one non-streaming request against an agent and returns the
// final output, including a function call if the agent ended on one.
func (c *Client) Run(ctx context.Context, agentLabel string, input []MessageInput) (*RunResult, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	url := fmt.Sprintf("%s/v1/libraries/%s/agents/%s/run",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.LibraryID, agentLabel)

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent platform: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent platform returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded struct {
		OutputText   string `json:"output_text"`
		FunctionCall *struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function_call"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode run response: %w", err)
	}

	result := &RunResult{Text: decoded.OutputText}
	if decoded.FunctionCall != nil {
		result.FunctionName = decoded.FunctionCall.Name
		result.FunctionArgs = decoded.FunctionCall.Arguments
	}
	return result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.OrganizationID != "" {
		req.Header.Set("X-Organization-Id", c.cfg.OrganizationID)
	}
}

// Stream delivers decoded events until the turn completes. The channel is
// closed after a terminal event (EventDone, EventError, EventInterrupted) or
// when the context is cancelled.
type Stream struct {
	events chan Event
	body   io.ReadCloser
}

func (s *Stream) Events() <-chan Event { return s.events }

// Close releases the transport early; pending events are discarded.
func (s *Stream) Close() {
	s.body.Close()
}

// consume parses the SSE wire format: "event:" names the type, "data:"
// carries the JSON payload, a blank line dispatches. A bare "[DONE]" data
// sentinel also ends the stream.
func (s *Stream) consume(ctx context.Context) {
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				s.emit(ctx, Event{Type: EventDone})
				return
			}
			ev, ok := decodeEvent(eventName, data)
			eventName, data = "", ""
			if !ok {
				continue
			}
			if !s.emit(ctx, ev) {
				return
			}
			if ev.Type == EventDone || ev.Type == EventError {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Printf("stream read failed: %v", err)
		s.emit(ctx, Event{Type: EventInterrupted, Err: "stream interrupted"})
	}
}

func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func decodeEvent(eventName, data string) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		logger.Printf("skipping undecodable event %q: %v", eventName, err)
		return Event{}, false
	}

	switch EventType(eventName) {
	case EventConversationCreated:
		return Event{Type: EventConversationCreated, ConversationID: w.ConversationID}, true
	case EventMessageDelta:
		return Event{Type: EventMessageDelta, Agent: w.Agent, Text: w.Text}, true
	case EventAgentHandoff:
		return Event{Type: EventAgentHandoff, FromAgent: w.FromAgent, Agent: w.ToAgent}, true
	case EventToolExecution:
		return Event{Type: EventToolExecution, Agent: w.Agent, Tool: w.Tool}, true
	case EventFunctionCall:
		return Event{Type: EventFunctionCall, CallID: w.ID, Name: w.Name, Arguments: w.Arguments}, true
	case EventError:
		return Event{Type: EventError, Err: w.Message}, true
	case EventDone:
		return Event{Type: EventDone}, true
	default:
		// Unknown event kinds are forward-compatible noise.
		return Event{}, false
	}
}
