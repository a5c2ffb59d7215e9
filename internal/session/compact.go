package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/event"
	"github.com/vibe-agent/vibe/internal/middleware"
	"github.com/vibe-agent/vibe/internal/provider"
	"github.com/vibe-agent/vibe/internal/stats"
	"github.com/vibe-agent/vibe/pkg/types"
)

// CompactionConfig controls message compaction behavior.
type CompactionConfig struct {
	// MinMessagesToKeep is the minimum number of recent messages to keep.
	MinMessagesToKeep int

	// SummaryMaxTokens is the maximum tokens for the summary.
	SummaryMaxTokens int

	// ContextThreshold is the percentage of context usage that triggers compaction.
	ContextThreshold float64
}

// DefaultCompactionConfig returns the default compaction configuration.
var DefaultCompactionConfig = CompactionConfig{
	MinMessagesToKeep: 4,
	SummaryMaxTokens:  2000,
	ContextThreshold:  0.75,
}

// compactMessages performs the C8 structural reset: the whole message
// history is summarized and then discarded, replaced by a single synthetic
// user message carrying that summary, per CompactConversation's reset law.
// Unlike the teacher's tail-summarization (which kept the newest
// MinMessagesToKeep messages verbatim), the reset is total -- only the
// message count check below decides whether compaction runs at all.
func (p *Processor) compactMessages(
	ctx context.Context,
	sessionID string,
	state *sessionState,
	messages []*types.Message,
) error {
	if len(messages) <= DefaultCompactionConfig.MinMessagesToKeep {
		return nil
	}

	// Update session compacting flag
	session, err := p.findSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	session.Time.Compacting = &now
	p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)

	defer func() {
		session.Time.Compacting = nil
		p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
	}()

	// Build summary prompt
	summaryPrompt := buildSummaryPrompt(ctx, p, messages)

	// Get default model for summarization
	model, err := p.providerRegistry.DefaultModel()
	if err != nil {
		return err
	}

	prov, err := p.providerRegistry.Get(model.ProviderID)
	if err != nil {
		return err
	}

	// Generate summary
	systemMsg := &schema.Message{
		Role:    schema.System,
		Content: compactionSystemPrompt,
	}

	userMsg := &schema.Message{
		Role:    schema.User,
		Content: summaryPrompt,
	}

	// Create streaming request
	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:     model.ID,
		Messages:  []*schema.Message{systemMsg, userMsg},
		MaxTokens: DefaultCompactionConfig.SummaryMaxTokens,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	// Collect response
	var summary strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		summary.WriteString(msg.Content)
	}

	lastUserText := lastUserMessageText(ctx, p, messages)

	// The system message passed here is never persisted to storage --
	// buildCompletionRequest always rebuilds it fresh from NewSystemPrompt
	// -- so a placeholder is enough; what matters is the reset it performs
	// on state.stats and state.pipeline, and the synthetic summary content
	// it produces for Messages[1].
	turnState := CompactConversation(
		agentcore.Message{Role: agentcore.RoleSystem},
		summary.String(),
		lastUserText,
		state.stats,
		state.pipeline,
	)
	state.stats = turnState.Stats

	// Discard the entire prior history: every existing message and its
	// parts are removed, replaced below by the single synthetic summary
	// message the reset law prescribes.
	for _, msg := range messages {
		p.storage.DeleteAll(ctx, []string{"part", msg.ID})
		p.storage.Delete(ctx, []string{"message", sessionID, msg.ID})
	}

	summaryMsg := &types.Message{
		ID:        generatePartID(),
		SessionID: sessionID,
		Role:      "user",
		IsSummary: true,
		Time: types.MessageTime{
			Created: time.Now().UnixMilli(),
		},
	}
	if err := p.storage.Put(ctx, []string{"message", sessionID, summaryMsg.ID}, summaryMsg); err != nil {
		return fmt.Errorf("failed to save summary message: %w", err)
	}

	summaryPart := &types.TextPart{
		ID:        generatePartID(),
		SessionID: sessionID,
		MessageID: summaryMsg.ID,
		Type:      "text",
		Text:      turnState.Messages[1].Content,
	}
	if err := p.storage.Put(ctx, []string{"part", summaryMsg.ID, summaryPart.ID}, summaryPart); err != nil {
		return fmt.Errorf("failed to save summary part: %w", err)
	}

	event.PublishSync(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: summaryMsg},
	})
	event.PublishSync(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: summaryPart},
	})

	// Record the compaction in the session's diff summary for display.
	session.Summary.Diffs = append(session.Summary.Diffs, types.FileDiff{
		Path:   "__compaction__",
		Before: "",
		After:  summary.String(),
	})
	p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)

	event.PublishSync(event.Event{
		Type: event.SessionCompacted,
		Data: event.SessionCompactedData{SessionID: sessionID},
	})

	return nil
}

// lastUserMessageText returns the text content of the most recent user
// message, so it can be preserved (via CompactConversation's trailer) even
// though the turn that carried it is folded into the summary.
func lastUserMessageText(ctx context.Context, p *Processor, messages []*types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		parts, err := p.loadParts(ctx, messages[i].ID)
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
	return ""
}

// buildSummaryPrompt creates a prompt for summarizing messages.
func buildSummaryPrompt(ctx context.Context, p *Processor, messages []*types.Message) string {
	var prompt strings.Builder

	prompt.WriteString("Please summarize the following conversation, focusing on:\n")
	prompt.WriteString("1. Key decisions and outcomes\n")
	prompt.WriteString("2. Files that were modified\n")
	prompt.WriteString("3. Important context for continuing the work\n\n")
	prompt.WriteString("---\n\n")

	for _, msg := range messages {
		if msg.Role == "user" {
			prompt.WriteString("USER:\n")
		} else {
			prompt.WriteString("ASSISTANT:\n")
		}

		// Load parts for the message
		parts, err := p.loadParts(ctx, msg.ID)
		if err != nil {
			continue
		}

		for _, part := range parts {
			switch pt := part.(type) {
			case *types.TextPart:
				prompt.WriteString(pt.Text)
				prompt.WriteString("\n")
			case *types.ToolPart:
				prompt.WriteString(fmt.Sprintf("[Tool: %s]\n", pt.Tool))
				if pt.State.Output != "" {
					// Truncate long outputs
					output := pt.State.Output
					if len(output) > 500 {
						output = output[:500] + "..."
					}
					prompt.WriteString(output)
					prompt.WriteString("\n")
				}
			}
		}

		prompt.WriteString("\n")
	}

	return prompt.String()
}

// estimateTokens provides a rough estimate of token count.
func estimateTokens(text string) int {
	// Rough estimate: ~4 characters per token
	return len(text) / 4
}

// compactionSystemPrompt is the system prompt for generating summaries.
const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

// processCompaction handles a compaction request by summarizing the conversation.
func (p *Processor) processCompaction(
	ctx context.Context,
	sessionID string,
	messages []*types.Message,
	compactionPart *types.CompactionPart,
	callback ProcessCallback,
) error {
	// Find session
	session, err := p.findSession(ctx, sessionID)
	if err != nil {
		return err
	}

	// Get the last user message (which contains the compaction part)
	lastMsg := messages[len(messages)-1]

	// Get provider and model from the user message
	providerID := p.defaultProviderID
	modelID := p.defaultModelID
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

	// Set compacting flag on session
	now := time.Now().UnixMilli()
	session.Time.Compacting = &now
	p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)

	defer func() {
		session.Time.Compacting = nil
		p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
	}()

	// Build summary prompt from all messages except the compaction request itself
	summaryPrompt := buildSummaryPrompt(ctx, p, messages[:len(messages)-1])
	summaryPrompt += "\n\nSummarize our conversation above. This summary will be the only context available when the conversation continues, so preserve critical information including: what was accomplished, current work in progress, files involved, next steps, and any key user requests or constraints. Be concise but detailed enough that work can continue seamlessly."

	// Create assistant message with summary flag
	assistantMsg := &types.Message{
		ID:         generatePartID(),
		SessionID:  sessionID,
		Role:       "assistant",
		ParentID:   lastMsg.ID,
		ProviderID: providerID,
		ModelID:    modelID,
		Mode:       lastMsg.Agent,
		IsSummary:  true, // Mark as summary message
		Path: &types.MessagePath{
			Cwd:  session.Directory,
			Root: session.Directory,
		},
		Time: types.MessageTime{
			Created: now,
		},
		Tokens: &types.TokenUsage{Input: 0, Output: 0},
	}

	// Save initial message
	if err := p.storage.Put(ctx, []string{"message", sessionID, assistantMsg.ID}, assistantMsg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	// Notify callback
	callback(assistantMsg, nil)

	// Publish message created event
	event.PublishSync(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: assistantMsg},
	})

	// Create text part for streaming the summary
	textPart := &types.TextPart{
		ID:        generatePartID(),
		SessionID: sessionID,
		MessageID: assistantMsg.ID,
		Type:      "text",
		Text:      "",
	}

	// Save initial part
	if err := p.storage.Put(ctx, []string{"part", assistantMsg.ID, textPart.ID}, textPart); err != nil {
		return fmt.Errorf("failed to save part: %w", err)
	}

	// Publish part created event
	event.PublishSync(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: textPart},
	})

	// Generate summary using LLM
	systemMsg := &schema.Message{
		Role:    schema.System,
		Content: compactionSystemPrompt,
	}

	userMsg := &schema.Message{
		Role:    schema.User,
		Content: summaryPrompt,
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:     model.ID,
		Messages:  []*schema.Message{systemMsg, userMsg},
		MaxTokens: DefaultCompactionConfig.SummaryMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion: %w", err)
	}
	defer stream.Close()

	// Stream the response
	var fullText strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}

		fullText.WriteString(msg.Content)
		textPart.Text = fullText.String()

		// Save updated part
		p.storage.Put(ctx, []string{"part", assistantMsg.ID, textPart.ID}, textPart)

		// Publish streaming update with delta
		event.PublishSync(event.Event{
			Type: event.MessagePartUpdated,
			Data: event.MessagePartUpdatedData{
				Part:  textPart,
				Delta: msg.Content,
			},
		})
	}

	// Update message with final token counts
	// (In a full implementation, we'd get actual token counts from the provider)
	assistantMsg.Tokens = &types.TokenUsage{
		Input:  estimateTokens(summaryPrompt),
		Output: estimateTokens(fullText.String()),
	}
	p.storage.Put(ctx, []string{"message", sessionID, assistantMsg.ID}, assistantMsg)

	// Publish message updated event
	event.PublishSync(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{Info: assistantMsg},
	})

	// Publish session.compacted event
	event.PublishSync(event.Event{
		Type: event.SessionCompacted,
		Data: event.SessionCompactedData{SessionID: sessionID},
	})

	// If auto-compaction, add a "Continue if you have next steps" message
	if compactionPart.Auto {
		continueMsg := &types.Message{
			ID:        generatePartID(),
			SessionID: sessionID,
			Role:      "user",
			Agent:     lastMsg.Agent,
			Model:     lastMsg.Model,
			Time: types.MessageTime{
				Created: time.Now().UnixMilli(),
			},
		}
		p.storage.Put(ctx, []string{"message", sessionID, continueMsg.ID}, continueMsg)

		continuePart := &types.TextPart{
			ID:        generatePartID(),
			SessionID: sessionID,
			MessageID: continueMsg.ID,
			Type:      "text",
			Text:      "Continue if you have next steps",
		}
		p.storage.Put(ctx, []string{"part", continueMsg.ID, continuePart.ID}, continuePart)

		event.PublishSync(event.Event{
			Type: event.MessageCreated,
			Data: event.MessageCreatedData{Info: continueMsg},
		})
		event.PublishSync(event.Event{
			Type: event.MessagePartUpdated,
			Data: event.MessagePartUpdatedData{Part: continuePart},
		})
	}

	return nil
}

// CompactTurnState is the outcome of collapsing an in-memory conversation
// for C8: a fresh history, a freshly minted session id, and the stats
// object with context state cleared but cumulative session totals intact.
type CompactTurnState struct {
	Messages  []agentcore.Message
	SessionID string
	Stats     *stats.Stats
}

// lastRequestTrailer is appended inside the synthetic summary user
// message so the model sees what the user most recently asked for even
// though the verbatim turn that carried it was folded into the summary.
const lastRequestTrailer = "\n\nLast request from user was: %s"

// CompactConversation implements the C8 reset law over the provider-neutral
// message model: summarize gets produced by the caller (via the LLM call
// in processCompaction/compactMessages above); this function performs the
// structural reset once a summary string is available. History becomes
// exactly [system, user(summary)] -- the system message is carried over
// unchanged, and every other message is discarded. previousStats is not
// mutated; the returned Stats is previousStats with context state cleared
// and a fresh session id attached to the turn, per the cumulative-stats
// preservation rule.
func CompactConversation(
	systemMessage agentcore.Message,
	summary string,
	lastUserMessage string,
	previousStats *stats.Stats,
	pipeline *middleware.Pipeline,
) CompactTurnState {
	summaryContent := summary
	if lastUserMessage != "" {
		summaryContent += fmt.Sprintf(lastRequestTrailer, lastUserMessage)
	}

	messages := []agentcore.Message{
		systemMessage,
		{Role: agentcore.RoleUser, Content: summaryContent},
	}

	freshStats := stats.CreateFresh(previousStats)
	// Cumulative session totals survive a compaction (only context state
	// resets); carry them forward onto the fresh stats object explicitly
	// since CreateFresh zeroes everything but listeners.
	snap := previousStats.ToSnapshot()
	freshStats.SessionPromptTokens = snap.SessionPromptTokens
	freshStats.SessionCompletionTokens = snap.SessionCompletionTokens
	freshStats.ToolCallsAgreed = snap.ToolCallsAgreed
	freshStats.ToolCallsRejected = snap.ToolCallsRejected
	freshStats.ToolCallsFailed = snap.ToolCallsFailed
	freshStats.ToolCallsSucceeded = snap.ToolCallsSucceeded
	freshStats.Steps = snap.Steps
	freshStats.InputPricePerMillion = previousStats.InputPricePerMillion
	freshStats.OutputPricePerMillion = previousStats.OutputPricePerMillion

	if pipeline != nil {
		pipeline.Reset(middleware.ResetCompact)
	}

	return CompactTurnState{
		Messages:  messages,
		SessionID: ulid.Make().String(),
		Stats:     freshStats,
	}
}
