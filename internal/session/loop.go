package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/event"
	"github.com/vibe-agent/vibe/internal/logging"
	"github.com/vibe-agent/vibe/internal/middleware"
	"github.com/vibe-agent/vibe/internal/provider"
	"github.com/vibe-agent/vibe/pkg/types"
)

const (
	// MaxSteps is the maximum number of agentic loop iterations.
	MaxSteps = 50
	// MaxRetries is the maximum number of retries for API errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
	// MaxContextTokens is the threshold for triggering context compaction.
	MaxContextTokens = 150000
)

// newRetryBackoff creates a new exponential backoff with jitter for API retries.
// Uses cenkalti/backoff for better retry behavior including jitter to prevent
// thundering herd problems and context-aware cancellation.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5 // Add jitter
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// runLoop executes the agentic loop.
func (p *Processor) runLoop(
	ctx context.Context,
	sessionID string,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	// Load session
	var session types.Session
	if err := p.storage.Get(ctx, []string{"session", sessionID}, &session); err != nil {
		// Try to find session in any project
		session, err := p.findSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("session not found: %w", err)
		}
		_ = session
	}

	// Load messages
	messages, err := p.loadMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		return fmt.Errorf("no messages in session")
	}

	lastMsg := messages[len(messages)-1]
	if lastMsg.Role != "user" {
		return fmt.Errorf("expected user message, got %s", lastMsg.Role)
	}

	// The /proxy-setup escape hatch answers locally, before any backend
	// or model resolution happens.
	if handled, err := p.interceptProxySetup(ctx, sessionID, state, lastMsg, callback); handled {
		return err
	}

	// Get provider and model
	providerID := "anthropic"
	modelID := "claude-sonnet-4-20250514"

	if lastMsg.Model != nil {
		providerID = lastMsg.Model.ProviderID
		modelID = lastMsg.Model.ModelID
	}

	prov, err := p.providerRegistry.Get(providerID)
	if err != nil {
		return fmt.Errorf("provider not found: %w", err)
	}

	model, err := p.providerRegistry.GetModel(providerID, modelID)
	if err != nil {
		return fmt.Errorf("model not found: %w", err)
	}

	// Create assistant message
	now := time.Now().UnixMilli()
	assistantMsg := &types.Message{
		ID:         generatePartID(),
		SessionID:  sessionID,
		Role:       "assistant",
		ProviderID: providerID,
		ModelID:    modelID,
		Time: types.MessageTime{
			Created: now,
		},
	}
	state.message = assistantMsg

	// Save initial message
	if err := p.storage.Put(ctx, []string{"message", sessionID, assistantMsg.ID}, assistantMsg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	// Notify callback
	callback(assistantMsg, nil)

	// Publish event
	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: assistantMsg},
	})

	// Get agent config
	if agent == nil {
		agent = DefaultAgent()
	}

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = MaxSteps
	}

	// Run loop
	step := 0
	retryBackoff := newRetryBackoff(ctx)

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			assistantMsg.Error = &types.MessageError{
				Type:    "abort",
				Message: "Processing aborted",
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			return ctx.Err()
		default:
		}

		// Check step limit
		if step >= maxSteps {
			assistantMsg.Error = &types.MessageError{
				Type:    "max_steps",
				Message: "Maximum steps reached",
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			return fmt.Errorf("max steps exceeded")
		}

		// Before-turn middleware pipeline (C7): turn/price limits, the
		// auto-compact trigger, and any queued reminder/warning messages
		// run ahead of every turn, in that precedence order.
		turnVerdict, err := state.pipeline.RunBeforeTurn(ctx, middleware.Context{
			Messages: messages,
			Stats:    state.stats,
			MaxPrice: agent.MaxPrice,
		})
		if err != nil {
			return fmt.Errorf("middleware pipeline: %w", err)
		}

		switch turnVerdict.Action {
		case middleware.ActionStop:
			assistantMsg.Finish = ptr("stop")
			assistantMsg.Error = &types.MessageError{
				Type:    "turn_limit",
				Message: turnVerdict.Reason,
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			state.pipeline.Reset(middleware.ResetStop)
			return nil

		case middleware.ActionCompact:
			event.Publish(event.Event{
				Type: event.TelemetryAutoCompactTriggered,
				Data: event.TelemetryAutoCompactTriggeredData{
					SessionID: sessionID,
					OldTokens: p.totalMessageTokens(messages),
					Threshold: MaxContextTokens,
				},
			})
			if err := p.compactMessages(ctx, sessionID, state, messages); err != nil {
				// Log but don't fail
			}
			messages, _ = p.loadMessages(ctx, sessionID)

		case middleware.ActionInjectMessage:
			if turnVerdict.Message != "" {
				state.pendingNotices = append(state.pendingNotices, turnVerdict.Message)
			}
		}

		// Build completion request
		req, err := p.buildCompletionRequest(ctx, sessionID, messages, assistantMsg, agent, model, state)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		// Call LLM with streaming
		turnStart := time.Now()
		stream, err := prov.CreateCompletion(ctx, req)
		if err != nil {
			// Use exponential backoff with jitter for retries
			nextInterval := retryBackoff.NextBackOff()
			if nextInterval == backoff.Stop {
				assistantMsg.Error = &types.MessageError{
					Type:    "api",
					Message: err.Error(),
				}
				p.saveMessage(ctx, sessionID, assistantMsg)
				return err
			}
			time.Sleep(nextInterval)
			continue
		}

		// Process stream
		finishReason, err := p.processStream(ctx, stream, state, callback)
		stream.Close()

		if err != nil {
			// Use exponential backoff with jitter for retries
			nextInterval := retryBackoff.NextBackOff()
			if nextInterval == backoff.Stop {
				assistantMsg.Error = &types.MessageError{
					Type:    "api",
					Message: err.Error(),
				}
				p.saveMessage(ctx, sessionID, assistantMsg)
				return err
			}
			time.Sleep(nextInterval)
			continue
		}

		// Reset backoff on success
		retryBackoff.Reset()

		// Record this turn's usage (C13) for the next turn's middleware
		// pipeline checks (turn limit, price limit, context warning).
		turnDuration := time.Since(turnStart).Seconds()
		promptTokens, completionTokens := 0, 0
		if assistantMsg.Tokens != nil {
			promptTokens = assistantMsg.Tokens.Input
			completionTokens = assistantMsg.Tokens.Output
		}
		contextTokens := p.totalMessageTokens(messages) + promptTokens + completionTokens
		state.stats.RecordTurnUsage(promptTokens, completionTokens, contextTokens, turnDuration)

		// Check finish reason
		switch finishReason {
		case "stop", "end_turn":
			// Normal completion
			finish := "stop"
			assistantMsg.Finish = &finish
			p.saveMessage(ctx, sessionID, assistantMsg)
			p.autoExportSessionLog(sessionID)
			return nil

		case "tool_use", "tool_calls":
			// Execute tools and continue loop
			if err := p.executeToolCalls(ctx, state, agent, callback); err != nil {
				// Tool execution errors don't stop the loop
				// The error is captured in the tool part
			}

			// An image-returning tool breaks the normal tool->assistant
			// alternation: the image has to arrive as a user message so
			// the vision model sees it on the next turn.
			if err := p.injectImageFollowUp(ctx, sessionID, state); err != nil {
				logging.Warn().Err(err).Str("session_id", sessionID).Msg("image follow-up failed")
			}

			// Refresh history so the next turn's request sees this turn's
			// assistant message and its tool results.
			messages, _ = p.loadMessages(ctx, sessionID)
			step++
			continue

		case "max_tokens", "length":
			// Output limit reached
			finish := "max_tokens"
			assistantMsg.Finish = &finish
			assistantMsg.Error = &types.MessageError{
				Type:    "output_length",
				Message: "Output length limit reached",
			}
			p.saveMessage(ctx, sessionID, assistantMsg)
			p.autoExportSessionLog(sessionID)
			return nil

		case "error":
			// Use exponential backoff with jitter for retries
			nextInterval := retryBackoff.NextBackOff()
			if nextInterval == backoff.Stop {
				return fmt.Errorf("stream error: max retries exceeded")
			}
			time.Sleep(nextInterval)
			continue

		default:
			// Unknown finish reason, treat as stop
			assistantMsg.Finish = &finishReason
			p.saveMessage(ctx, sessionID, assistantMsg)
			p.autoExportSessionLog(sessionID)
			return nil
		}
	}
}

// findSession finds a session by ID across all projects.
func (p *Processor) findSession(ctx context.Context, sessionID string) (*types.Session, error) {
	projects, err := p.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := p.storage.Get(ctx, []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}

	return nil, fmt.Errorf("session not found: %s", sessionID)
}

// loadMessages loads all messages for a session.
func (p *Processor) loadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := p.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// saveMessage saves an assistant message.
func (p *Processor) saveMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	now := time.Now().UnixMilli()
	msg.Time.Updated = &now

	if err := p.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
		return err
	}

	event.Publish(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{Info: msg},
	})

	return nil
}

// savePart saves a part for a message.
func (p *Processor) savePart(ctx context.Context, messageID string, part types.Part) error {
	return p.storage.Put(ctx, []string{"part", messageID, part.PartID()}, part)
}

// totalMessageTokens sums the recorded input+output tokens across messages.
func (p *Processor) totalMessageTokens(messages []*types.Message) int {
	totalTokens := 0
	for _, msg := range messages {
		if msg.Tokens != nil {
			totalTokens += msg.Tokens.Input + msg.Tokens.Output
		}
	}
	return totalTokens
}

// buildCompletionRequest builds an LLM completion request. Conversation
// history is converted through the provider-neutral agentcore.Message rows
// (the same conversion export.go uses for session-log archival) rather than
// built directly as Eino messages, so the production turn loop and the
// archival path share one message model (C1).
func (p *Processor) buildCompletionRequest(
	ctx context.Context,
	sessionID string,
	messages []*types.Message,
	currentMsg *types.Message,
	agent *Agent,
	model *types.Model,
	state *sessionState,
) (*provider.CompletionRequest, error) {
	// Build system prompt
	session, _ := p.findSession(ctx, sessionID)
	systemPrompt := NewSystemPrompt(session, agent, currentMsg.ProviderID, currentMsg.ModelID)
	systemContent := systemPrompt.Build()
	if len(state.pendingNotices) > 0 {
		for _, notice := range state.pendingNotices {
			systemContent += "\n\n" + notice
		}
		state.pendingNotices = nil
	}

	// Convert messages to Eino format
	var einoMessages []*schema.Message

	// Add system message
	einoMessages = append(einoMessages, &schema.Message{
		Role:    schema.System,
		Content: systemContent,
	})

	// Add conversation history
	for _, msg := range messages {
		// Skip errored messages without content
		if msg.Error != nil && !p.hasUsableContent(ctx, msg) {
			continue
		}

		// Load parts for this message
		parts, err := p.loadParts(ctx, msg.ID)
		if err != nil {
			continue
		}

		// User messages carrying an image part become multi-part content
		// so the vision model receives the image itself; the text-only
		// agentcore row model cannot express them.
		if msg.Role == "user" {
			if multi := imageUserMessage(parts); multi != nil {
				einoMessages = append(einoMessages, multi)
				continue
			}
		}

		for _, row := range messageToAgentcoreRows(msg, parts) {
			einoMessages = append(einoMessages, agentcoreToEino(row))
		}
	}

	// Get enabled tools
	tools, err := p.resolveTools(agent, model)
	if err != nil {
		return nil, err
	}

	// Build request
	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	req := &provider.CompletionRequest{
		Model:       model.ID,
		Messages:    einoMessages,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: agent.Temperature,
		TopP:        agent.TopP,
	}

	return req, nil
}

// loadParts loads all parts for a message.
func (p *Processor) loadParts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := p.storage.Scan(ctx, []string{"part", messageID}, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	return parts, err
}

// hasUsableContent checks if a message has content worth including.
func (p *Processor) hasUsableContent(ctx context.Context, msg *types.Message) bool {
	parts, err := p.loadParts(ctx, msg.ID)
	if err != nil {
		return false
	}
	return len(parts) > 0
}

// imageUserMessage builds a MultiContent user message when the parts
// include an image file part; returns nil for plain text messages.
func imageUserMessage(parts []types.Part) *schema.Message {
	var content []schema.ChatMessagePart
	hasImage := false

	for _, part := range parts {
		switch tp := part.(type) {
		case *types.TextPart:
			content = append(content, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: tp.Text,
			})
		case *types.FilePart:
			if !strings.HasPrefix(tp.MediaType, "image/") {
				continue
			}
			hasImage = true
			content = append(content, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      tp.URL,
					MIMEType: tp.MediaType,
				},
			})
		}
	}

	if !hasImage {
		return nil
	}
	return &schema.Message{
		Role:         schema.User,
		MultiContent: content,
	}
}

// agentcoreToEino converts one provider-neutral row into the Eino wire
// type the backend adapter expects.
func agentcoreToEino(m agentcore.Message) *schema.Message {
	role := schema.Assistant
	switch m.Role {
	case agentcore.RoleUser:
		role = schema.User
	case agentcore.RoleSystem:
		role = schema.System
	case agentcore.RoleTool:
		role = schema.Tool
	}

	einoMsg := &schema.Message{
		Role:       role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
			ID: tc.ID,
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return einoMsg
}

// resolveTools returns tools enabled for the agent.
func (p *Processor) resolveTools(agent *Agent, model *types.Model) ([]*schema.ToolInfo, error) {
	if !model.SupportsTools {
		return nil, nil
	}

	allTools := p.toolRegistry.List()

	var result []*schema.ToolInfo

	for _, t := range allTools {
		if !agent.ToolEnabled(t.ID()) {
			continue
		}

		params := parseJSONSchemaToParams(t.Parameters())
		result = append(result, &schema.ToolInfo{
			Name:        t.ID(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}

	return result, nil
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}

// generatePartID generates a new ULID for parts.
func generatePartID() string {
	return ulid.Make().String()
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T {
	return &v
}

// processStream is defined in stream.go

// Stub for io.EOF check - the actual implementation is in stream.go
var _ = io.EOF
