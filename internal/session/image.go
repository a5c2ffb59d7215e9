package session

import (
	"context"
	"fmt"
	"time"

	"github.com/vibe-agent/vibe/internal/event"
	"github.com/vibe-agent/vibe/pkg/types"
)

// injectImageFollowUp turns a completed image-returning tool call into the
// message pair the vision model needs: an assistant "Understood." row
// followed by a synthetic user row carrying the image itself. The normal
// tool->assistant alternation is deliberately broken here -- a tool result
// row cannot carry an image, only a user message can -- and the turn loop
// keeps going even though the last row is now a user message.
func (p *Processor) injectImageFollowUp(
	ctx context.Context,
	sessionID string,
	state *sessionState,
) error {
	for _, part := range state.parts {
		toolPart, ok := part.(*types.ToolPart)
		if !ok || toolPart.State.Status != "completed" || toolPart.State.Metadata == nil {
			continue
		}
		imageURL, ok := toolPart.State.Metadata["image_url"].(string)
		if !ok || imageURL == "" {
			continue
		}
		if injected, _ := toolPart.State.Metadata["image_injected"].(bool); injected {
			continue
		}
		toolPart.State.Metadata["image_injected"] = true
		p.savePart(ctx, state.message.ID, toolPart)

		sourcePath, _ := toolPart.State.Metadata["source_path"].(string)
		if sourcePath == "" {
			sourcePath = imageURL
		}
		mediaType := "image/jpeg"
		if len(toolPart.State.Attachments) > 0 && toolPart.State.Attachments[0].MediaType != "" {
			mediaType = toolPart.State.Attachments[0].MediaType
		}

		if err := p.appendSyntheticMessage(ctx, sessionID, "assistant", []types.Part{
			&types.TextPart{Type: "text", Text: "Understood."},
		}); err != nil {
			return err
		}

		return p.appendSyntheticMessage(ctx, sessionID, "user", []types.Part{
			&types.TextPart{
				Type: "text",
				Text: fmt.Sprintf("This is an image fetched from %s", sourcePath),
			},
			&types.FilePart{
				Type:      "file",
				MediaType: mediaType,
				URL:       imageURL,
			},
		})
	}
	return nil
}

// appendSyntheticMessage persists a loop-generated message with the given
// parts, filling in ids, session linkage, and timestamps.
func (p *Processor) appendSyntheticMessage(
	ctx context.Context,
	sessionID string,
	role string,
	parts []types.Part,
) error {
	now := time.Now().UnixMilli()
	msg := &types.Message{
		ID:        generatePartID(),
		SessionID: sessionID,
		Role:      role,
		Time:      types.MessageTime{Created: now},
	}
	if err := p.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
		return err
	}

	for _, part := range parts {
		switch tp := part.(type) {
		case *types.TextPart:
			tp.ID = generatePartID()
			tp.SessionID = sessionID
			tp.MessageID = msg.ID
			tp.Time = types.PartTime{Start: &now, End: &now}
		case *types.FilePart:
			tp.ID = generatePartID()
			tp.SessionID = sessionID
			tp.MessageID = msg.ID
		}
		if err := p.savePart(ctx, msg.ID, part); err != nil {
			return err
		}
	}

	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: msg},
	})
	return nil
}
