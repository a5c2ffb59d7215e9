package mcpsampling

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/provider"
)

// ProviderBackend adapts the server's provider.Registry — the same
// registry the agent loop and title generation use — into the Backend
// interface HandleCreateMessage needs. It always targets the registry's
// default model and never passes tool definitions, matching the "tools
// always omitted" rule for sampling requests.
type ProviderBackend struct {
	registry *provider.Registry
}

// NewProviderBackend builds a Backend over the given provider registry.
func NewProviderBackend(registry *provider.Registry) *ProviderBackend {
	return &ProviderBackend{registry: registry}
}

// ActiveModelName reports the registry's default model id, or "" if none
// is configured.
func (b *ProviderBackend) ActiveModelName() string {
	model, err := b.registry.DefaultModel()
	if err != nil {
		return ""
	}
	return model.ID
}

// Complete runs the messages to completion against the default model and
// folds the resulting stream into a single Chunk.
func (b *ProviderBackend) Complete(ctx context.Context, messages []agentcore.Message, maxTokens int) (agentcore.Chunk, error) {
	model, err := b.registry.DefaultModel()
	if err != nil {
		return agentcore.Chunk{}, fmt.Errorf("mcpsampling: no default model: %w", err)
	}
	prov, err := b.registry.Get(model.ProviderID)
	if err != nil {
		return agentcore.Chunk{}, fmt.Errorf("mcpsampling: provider %s: %w", model.ProviderID, err)
	}

	einoMessages := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.Assistant
		switch m.Role {
		case agentcore.RoleSystem:
			role = schema.System
		case agentcore.RoleUser:
			role = schema.User
		case agentcore.RoleTool:
			role = schema.Tool
		}
		einoMessages = append(einoMessages, &schema.Message{Role: role, Content: m.Content})
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:     model.ID,
		Messages:  einoMessages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return agentcore.Chunk{}, fmt.Errorf("mcpsampling: create completion: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return agentcore.Chunk{}, fmt.Errorf("mcpsampling: receive completion: %w", err)
		}
		content.WriteString(msg.Content)
	}

	return agentcore.Chunk{Message: agentcore.Message{Role: agentcore.RoleAssistant, Content: content.String()}}, nil
}
