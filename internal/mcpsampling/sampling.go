// Package mcpsampling implements the agent-as-sampling-host direction of
// the Model Context Protocol (C14): an external MCP tool-server may ask
// the agent's own LLM backend for a completion mid-execution via
// "sampling/createMessage". This is the inverse of internal/mcp's
// client-of-external-servers role.
package mcpsampling

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibe-agent/vibe/internal/agentcore"
)

// Role mirrors the MCP sampling message roles, a strict subset of
// agentcore.Role (no system or tool rows appear in a sampling request
// body; systemPrompt is carried out-of-band).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one piece of a sampling message's content. Only text
// blocks are supported; a server offering image/audio content blocks
// gets a structured error rather than silent truncation.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one row of an incoming sampling request.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// CreateMessageRequest is the inbound "sampling/createMessage" payload,
// reduced to the fields this adapter consumes.
type CreateMessageRequest struct {
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	MaxTokens    int       `json:"maxTokens,omitempty"`
}

// CreateMessageResult is the adapter's response, matching the MCP
// sampling result shape.
type CreateMessageResult struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stopReason"`
}

// StopReasonEndTurn is the only stop reason this adapter ever reports:
// it always runs the backend to completion with no tool definitions, so
// there is no other terminal state to distinguish.
const StopReasonEndTurn = "endTurn"

// Backend is the minimal completion capability the adapter needs from
// the agent loop's active LLM backend (C3). It deliberately omits
// streaming and tool definitions: sampling requests are always
// non-streaming and always called with tools=None per spec.
type Backend interface {
	Complete(ctx context.Context, messages []agentcore.Message, maxTokens int) (agentcore.Chunk, error)
	ActiveModelName() string
}

// contentText concatenates a message's text content blocks with
// newlines, matching the "content text blocks concatenated with
// newlines" mapping rule.
func contentText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// HandleCreateMessage maps an MCP sampling request into the agent's own
// message model, calls the active backend with no tool definitions, and
// maps the result back to the MCP sampling result shape. Errors are
// returned as-is; the caller (the MCP server transport) is responsible
// for wrapping them into a structured JSON-RPC error with the exception
// message, per spec.
func HandleCreateMessage(ctx context.Context, backend Backend, req CreateMessageRequest) (CreateMessageResult, error) {
	var messages []agentcore.Message

	if req.SystemPrompt != "" {
		messages = append(messages, agentcore.Message{
			Role:    agentcore.RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type != "text" {
				return CreateMessageResult{}, fmt.Errorf("mcpsampling: unsupported content block type %q", b.Type)
			}
		}
		role := agentcore.RoleUser
		if m.Role == RoleAssistant {
			role = agentcore.RoleAssistant
		}
		messages = append(messages, agentcore.Message{
			Role:    role,
			Content: contentText(m.Content),
		})
	}

	chunk, err := backend.Complete(ctx, messages, req.MaxTokens)
	if err != nil {
		return CreateMessageResult{}, fmt.Errorf("mcpsampling: backend completion failed: %w", err)
	}

	return CreateMessageResult{
		Role:       RoleAssistant,
		Content:    chunk.Message.Content,
		Model:      backend.ActiveModelName(),
		StopReason: StopReasonEndTurn,
	}, nil
}
