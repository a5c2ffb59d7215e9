package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/event"
	"github.com/vibe-agent/vibe/internal/logging"
	"github.com/vibe-agent/vibe/internal/provider"
	"github.com/vibe-agent/vibe/pkg/types"
)

// processStream processes events from the LLM stream.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	var currentToolParts map[string]*types.ToolPart
	var finishReason string
	// accumulatedMsg folds streamed chunks via the agentcore.Message merge
	// law (C1) rather than guessing whether a provider sends true deltas
	// or ever-growing accumulated content.
	var accumulatedMsg *agentcore.Message
	var accumulatedToolInputs map[string]string

	currentToolParts = make(map[string]*types.ToolPart)
	accumulatedToolInputs = make(map[string]string)

	// Emit step-start part at the beginning of inference
	stepStartPart := &types.StepStartPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-start",
	}
	state.parts = append(state.parts, stepStartPart)
	p.savePart(ctx, state.message.ID, stepStartPart)
	event.Publish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: stepStartPart},
	})
	callback(state.message, state.parts)

	log := logging.Logger.With().Str("session_id", state.message.SessionID).Str("message_id", state.message.ID).Logger()
	log.Debug().Msg("stream: receiving chunks")
	chunkCount := 0
	var lastChunkTime time.Time
	var lastEventTime time.Time // For throttling event publishing

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("stream: context cancelled")
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			log.Debug().Int("chunks", chunkCount).Msg("stream: EOF")
			break
		}
		if err != nil {
			log.Debug().Err(err).Msg("stream: recv failed")
			return "error", err
		}
		chunkCount++
		now := time.Now()
		var delta time.Duration
		if !lastChunkTime.IsZero() {
			delta = now.Sub(lastChunkTime)
		}
		lastChunkTime = now
		log.Trace().
			Int("chunk", chunkCount).
			Dur("delta", delta).
			Str("content", truncate(msg.Content, 50)).
			Int("tool_calls", len(msg.ToolCalls)).
			Bool("meta", msg.ResponseMeta != nil).
			Msg("stream: chunk")

		// Process the message chunk
		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedMsg, accumulatedToolInputs, &lastEventTime)

		if finishReason != "" {
			break
		}
	}

	// Finalize any open parts
	if currentTextPart != nil {
		now := time.Now().UnixMilli()
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
	}

	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	// Finalize tool parts
	for id, toolPart := range currentToolParts {
		log.Debug().Str("tool", toolPart.Tool).Str("call_id", toolPart.CallID).Msg("stream: finalizing tool part")
		if accInput, ok := accumulatedToolInputs[id]; ok && toolPart.State.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.State.Input = input
			}
		}
		toolPart.State.Status = "running"
		p.savePart(ctx, state.message.ID, toolPart)
	}

	// Determine finish reason from accumulated state
	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls" // SDK compatible: TypeScript uses "tool-calls"
		} else {
			finishReason = "stop"
		}
	}

	// Normalize finish reason to SDK-compatible format
	// TypeScript uses "tool-calls" but some providers return "tool_use"
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	// Emit step-finish part at the end of inference with cost and token info
	stepFinishPart := &types.StepFinishPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-finish",
		Reason:    finishReason,
		Cost:      state.message.Cost,
		Tokens:    state.message.Tokens,
	}
	state.parts = append(state.parts, stepFinishPart)
	p.savePart(ctx, state.message.ID, stepFinishPart)
	event.Publish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: stepFinishPart},
	})
	callback(state.message, state.parts)

	log.Debug().Str("reason", finishReason).Int("parts", len(state.parts)).Msg("stream: finished")

	return finishReason, nil
}

// truncate truncates a string to the specified length.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MinEventInterval is the minimum time between streaming events.
// This ensures the TUI has time to process each event before the next arrives.
// Set to slightly above TUI's 16ms batching window to prevent batching.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling to prevent TUI batching.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		elapsed := time.Since(*lastEventTime)
		if elapsed < MinEventInterval {
			time.Sleep(MinEventInterval - elapsed)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedMsg **agentcore.Message,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) string {
	var finishReason string

	// Fold this chunk into the running agentcore.Message via the merge law
	// (C1): Content/ReasoningContent concatenate, so the delta to publish
	// is exactly the newly-merged suffix.
	if msg.Content != "" || msg.ReasoningContent != "" {
		previousContent := ""
		previousReasoning := ""
		if *accumulatedMsg != nil {
			previousContent = (*accumulatedMsg).Content
			previousReasoning = (*accumulatedMsg).ReasoningContent
		}

		incoming := agentcore.Message{
			Role:             agentcore.RoleAssistant,
			Content:          msg.Content,
			ReasoningContent: msg.ReasoningContent,
		}

		var merged agentcore.Message
		if *accumulatedMsg == nil {
			merged = incoming
		} else if m, err := (*accumulatedMsg).Merge(incoming); err == nil {
			merged = m
		} else {
			merged = incoming
		}
		*accumulatedMsg = &merged

		textDelta := merged.Content[len(previousContent):]
		reasoningDelta := merged.ReasoningContent[len(previousReasoning):]

		if textDelta != "" {
			if *currentTextPart == nil {
				now := time.Now().UnixMilli()
				*currentTextPart = &types.TextPart{
					ID:        generatePartID(),
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					Type:      "text",
					Text:      merged.Content,
					Time:      types.PartTime{Start: &now},
				}
				state.parts = append(state.parts, *currentTextPart)
			} else {
				(*currentTextPart).Text = merged.Content
			}

			// Publish delta event (SDK compatible: uses MessagePartUpdated).
			// Note: Uses throttledPublish to prevent TUI batching.
			throttledPublish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part:  *currentTextPart,
					Delta: textDelta,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		}

		if reasoningDelta != "" {
			if *currentReasoningPart == nil {
				now := time.Now().UnixMilli()
				*currentReasoningPart = &types.ReasoningPart{
					ID:        generatePartID(),
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					Type:      "reasoning",
					Text:      merged.ReasoningContent,
					Time:      types.PartTime{Start: &now},
				}
				state.parts = append(state.parts, *currentReasoningPart)
			} else {
				(*currentReasoningPart).Text = merged.ReasoningContent
			}
			callback(state.message, state.parts)
		}
	}

	// Handle tool calls
	// The eino streaming model uses Index to track tool calls:
	// - Start event: Index=N, ID="toolu_xxx", Name="Read"
	// - Delta events: Index=N, ID="", Name="", Arguments='{"partial...'
	for _, tc := range msg.ToolCalls {
		// Use Index to track tool calls (eino streaming model)
		var toolIndex int
		if tc.Index != nil {
			toolIndex = *tc.Index
		} else if tc.ID != "" {
			// Fallback: use ID-based tracking if Index not available
			toolIndex = -1 // Will use ID map
		} else {
			logging.Debug().Msg("stream: skipping tool call with no index and no id")
			continue
		}

		// Determine lookup key - use index string or ID
		var lookupKey string
		if toolIndex >= 0 {
			lookupKey = fmt.Sprintf("idx:%d", toolIndex)
		} else {
			lookupKey = tc.ID
		}

		toolPart, exists := currentToolParts[lookupKey]

		// New tool call (has ID and Name)
		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "tool",
				CallID:    tc.ID,
				Tool:      tc.Function.Name,
				State: types.ToolState{
					Status: "pending",
					Input:  make(map[string]any),
					Raw:    "",
					Time:   &types.ToolTime{Start: now},
				},
			}
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[lookupKey] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		// Accumulate arguments (delta chunks have arguments but no ID/Name)
		if tc.Function.Arguments != "" && toolPart != nil {
			// Append arguments (eino sends deltas, not accumulated)
			accumulatedToolInputs[lookupKey] += tc.Function.Arguments
			toolPart.State.Raw = accumulatedToolInputs[lookupKey]

			// Arguments arrive as partial JSON until the final delta; only
			// decode once the accumulated string is a complete document.
			if raw := accumulatedToolInputs[lookupKey]; gjson.Valid(raw) {
				var input map[string]any
				if err := json.Unmarshal([]byte(raw), &input); err == nil {
					toolPart.State.Input = input
				}
			}

			// Publish tool part update (SDK compatible: uses MessagePartUpdated)
			// Note: Must use async Publish so SSE select loop can process events
			event.Publish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part: toolPart,
				},
			})

			callback(state.message, state.parts)
		}
	}

	// Check for response metadata (token usage)
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}

		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}

		// Check finish reason
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}

// StreamEvent represents different types of stream events.
type StreamEvent interface {
	streamEvent()
}

// TextStartEvent indicates the start of text content.
type TextStartEvent struct{}

func (TextStartEvent) streamEvent() {}

// TextDeltaEvent contains a text delta.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) streamEvent() {}

// TextEndEvent indicates the end of text content.
type TextEndEvent struct{}

func (TextEndEvent) streamEvent() {}

// ReasoningStartEvent indicates the start of reasoning content.
type ReasoningStartEvent struct{}

func (ReasoningStartEvent) streamEvent() {}

// ReasoningDeltaEvent contains a reasoning delta.
type ReasoningDeltaEvent struct {
	Text string
}

func (ReasoningDeltaEvent) streamEvent() {}

// ReasoningEndEvent indicates the end of reasoning content.
type ReasoningEndEvent struct{}

func (ReasoningEndEvent) streamEvent() {}

// ToolCallStartEvent indicates the start of a tool call.
type ToolCallStartEvent struct {
	ID   string
	Name string
}

func (ToolCallStartEvent) streamEvent() {}

// ToolCallDeltaEvent contains input delta for a tool call.
type ToolCallDeltaEvent struct {
	ID    string
	Delta string
}

func (ToolCallDeltaEvent) streamEvent() {}

// ToolCallEndEvent indicates completion of a tool call.
type ToolCallEndEvent struct {
	ID    string
	Input json.RawMessage
}

func (ToolCallEndEvent) streamEvent() {}

// FinishEvent indicates stream completion.
type FinishEvent struct {
	Reason string
	Error  error
}

func (FinishEvent) streamEvent() {}
