package chat

import (
	"context"
	"strings"

	"github.com/anwado/backend/internal/agent"
)

// EventStream is the consumed side of one remote agent turn.
type EventStream interface {
	Events() <-chan agent.Event
	Close()
}

// Agents opens remote agent streams. Satisfied by PlatformAgents in
// production and by fakes in tests.
type Agents interface {
	StartStream(ctx context.Context, agentLabel string, input []agent.MessageInput) (EventStream, error)
	AppendStream(ctx context.Context, remoteID string, input []agent.MessageInput) (EventStream, error)
}

// PlatformAgents adapts the agent platform client to the Agents interface.
type PlatformAgents struct {
	Client *agent.Client
}

func (p PlatformAgents) StartStream(ctx context.Context, agentLabel string, input []agent.MessageInput) (EventStream, error) {
	s, err := p.Client.StartStream(ctx, agentLabel, input)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p PlatformAgents) AppendStream(ctx context.Context, remoteID string, input []agent.MessageInput) (EventStream, error) {
	s, err := p.Client.AppendStream(ctx, remoteID, input)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// normalizeLabel canonicalizes remote agent names: lowercase, spaces become
// underscores, a leading "legal_" vendor prefix is dropped.
func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.ReplaceAll(l, " ", "_")
	l = strings.TrimPrefix(l, "legal_")
	return l
}

// isWrapupLabel reports whether a normalized label names the wrap-up agent.
// Matching stays loose because the platform has renamed it before
// ("wrap_up", "wrapup", "case_wrap_up").
func isWrapupLabel(label string) bool {
	return strings.Contains(label, "wrap") && strings.Contains(label, "up")
}
