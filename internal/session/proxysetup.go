package session

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibe-agent/vibe/internal/config"
	"github.com/vibe-agent/vibe/internal/event"
	"github.com/vibe-agent/vibe/internal/proxyenv"
	"github.com/vibe-agent/vibe/pkg/types"
)

const proxySetupPrefix = "/proxy-setup"

// interceptProxySetup handles a /proxy-setup user prompt locally: the env
// file edit runs and the response is written as an ordinary assistant
// message without any backend call. This is the only prompt prefix the
// loop intercepts. Returns false when the prompt is not a proxy-setup
// command.
func (p *Processor) interceptProxySetup(
	ctx context.Context,
	sessionID string,
	state *sessionState,
	userMsg *types.Message,
	callback ProcessCallback,
) (bool, error) {
	text := strings.TrimSpace(p.messageText(ctx, userMsg))
	if !strings.HasPrefix(strings.ToLower(text), proxySetupPrefix) {
		return false, nil
	}

	editor := proxyenv.NewEditor(filepath.Join(config.GetPaths().Config, ".env"))
	response := editor.HandleCommand(text[len(proxySetupPrefix):])

	now := time.Now().UnixMilli()
	assistantMsg := &types.Message{
		ID:        generatePartID(),
		SessionID: sessionID,
		Role:      "assistant",
		Time:      types.MessageTime{Created: now},
		Finish:    ptr("stop"),
	}
	state.message = assistantMsg

	textPart := &types.TextPart{
		ID:        generatePartID(),
		SessionID: sessionID,
		MessageID: assistantMsg.ID,
		Type:      "text",
		Text:      response,
		Time:      types.PartTime{Start: &now, End: &now},
	}
	state.parts = []types.Part{textPart}

	if err := p.storage.Put(ctx, []string{"message", sessionID, assistantMsg.ID}, assistantMsg); err != nil {
		return true, err
	}
	p.savePart(ctx, assistantMsg.ID, textPart)

	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: assistantMsg},
	})
	event.Publish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: textPart},
	})

	callback(assistantMsg, state.parts)
	return true, nil
}

// messageText concatenates a message's text parts.
func (p *Processor) messageText(ctx context.Context, msg *types.Message) string {
	parts, err := p.loadParts(ctx, msg.ID)
	if err != nil {
		return ""
	}
	var text strings.Builder
	for _, part := range parts {
		if tp, ok := part.(*types.TextPart); ok {
			text.WriteString(tp.Text)
		}
	}
	return text.String()
}
