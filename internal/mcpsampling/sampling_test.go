package mcpsampling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibe-agent/vibe/internal/agentcore"
)

type fakeBackend struct {
	received []agentcore.Message
	reply    string
	err      error
}

func (f *fakeBackend) Complete(_ context.Context, messages []agentcore.Message, _ int) (agentcore.Chunk, error) {
	f.received = messages
	if f.err != nil {
		return agentcore.Chunk{}, f.err
	}
	return agentcore.Chunk{Message: agentcore.Message{Role: agentcore.RoleAssistant, Content: f.reply}}, nil
}

func (f *fakeBackend) ActiveModelName() string { return "claude-test" }

func TestHandleCreateMessage_MapsSystemPromptAndRoles(t *testing.T) {
	backend := &fakeBackend{reply: "42"}

	req := CreateMessageRequest{
		SystemPrompt: "you are a calculator",
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: "what is"}, {Type: "text", Text: "6*7"}}},
		},
		MaxTokens: 100,
	}

	result, err := HandleCreateMessage(context.Background(), backend, req)
	require.NoError(t, err)

	assert.Equal(t, RoleAssistant, result.Role)
	assert.Equal(t, "42", result.Content)
	assert.Equal(t, "claude-test", result.Model)
	assert.Equal(t, StopReasonEndTurn, result.StopReason)

	require.Len(t, backend.received, 2)
	assert.Equal(t, agentcore.RoleSystem, backend.received[0].Role)
	assert.Equal(t, "you are a calculator", backend.received[0].Content)
	assert.Equal(t, agentcore.RoleUser, backend.received[1].Role)
	assert.Equal(t, "what is\n6*7", backend.received[1].Content, "content text blocks concatenate with newlines")
}

func TestHandleCreateMessage_OmitsSystemRowWhenNoSystemPrompt(t *testing.T) {
	backend := &fakeBackend{reply: "ok"}

	_, err := HandleCreateMessage(context.Background(), backend, CreateMessageRequest{
		Messages: []Message{{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Len(t, backend.received, 1)
	assert.Equal(t, agentcore.RoleUser, backend.received[0].Role)
}

func TestHandleCreateMessage_WrapsBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("rate limited")}

	_, err := HandleCreateMessage(context.Background(), backend, CreateMessageRequest{
		Messages: []Message{{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
