package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/logging"
	"github.com/vibe-agent/vibe/internal/sessionlog"
	"github.com/vibe-agent/vibe/internal/stats"
	"github.com/vibe-agent/vibe/internal/vcs"
	"github.com/vibe-agent/vibe/pkg/types"
)

const defaultSessionLogPrefix = "vibe"

// ExportSessionLog archives a session's messages to the C10 on-disk
// format: a "<prefix>_<timestamp>_<id>" directory holding messages.jsonl
// and meta.json. On-demand export is additive — the live session remains
// in storage untouched — so a session can still be exported manually any
// number of times on top of the automatic mirror runLoop maintains via
// autoExportSessionLog.
func (s *Service) ExportSessionLog(ctx context.Context, sessionID string, cfg types.SessionLoggingConfig) (string, error) {
	if !cfg.Enabled {
		return "", fmt.Errorf("session: session logging not enabled")
	}
	saveDir := cfg.SaveDir
	if saveDir == "" {
		saveDir = "./sessions"
	}
	prefix := cfg.SessionPrefix
	if prefix == "" {
		prefix = defaultSessionLogPrefix
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("session: export: %w", err)
	}

	msgs, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("session: export: %w", err)
	}

	var rows []agentcore.Message
	var agentName string
	for _, m := range msgs {
		if m.Agent != "" {
			agentName = m.Agent
		}
		parts, err := s.GetParts(ctx, m.ID)
		if err != nil {
			return "", fmt.Errorf("session: export: get parts for %s: %w", m.ID, err)
		}
		rows = append(rows, messageToAgentcoreRows(m, parts)...)
	}

	dir, err := sessionlog.CreateDir(saveDir, prefix)
	if err != nil {
		return "", fmt.Errorf("session: export: %w", err)
	}
	if err := dir.WriteMessages(rows); err != nil {
		return "", fmt.Errorf("session: export: %w", err)
	}

	endTime := time.UnixMilli(sess.Time.Updated).UTC().Format(time.RFC3339)
	meta := sessionlog.Meta{
		SessionID:     sess.ID,
		StartTime:     time.UnixMilli(sess.Time.Created).UTC().Format(time.RFC3339),
		EndTime:       &endTime,
		Environment:   sessionlog.Environment{WorkingDirectory: sess.Directory},
		Title:         sess.Title,
		Stats:         stats.New().ToSnapshot(),
		TotalMessages: len(rows),
		AgentProfile:  agentName,
		GitCommit:     vcs.GetCommit(sess.Directory),
		GitBranch:     vcs.GetBranch(sess.Directory),
		Username:      os.Getenv("USER"),
		Entrypoint:    cfg.Entrypoint,
	}
	if err := dir.WriteMeta(meta); err != nil {
		return "", fmt.Errorf("session: export: %w", err)
	}

	return dir.Path, nil
}

// messageToAgentcoreRows flattens a types.Message and its parts into one
// or more provider-neutral rows: a user/assistant message contributes a
// text row (if it has content) plus one row per completed tool call,
// mirroring how the agent loop represents a turn to the backend.
func messageToAgentcoreRows(m *types.Message, parts []types.Part) []agentcore.Message {
	role := agentcore.Role(m.Role)

	var text string
	var toolCalls []agentcore.ToolCall
	var toolResults []agentcore.Message

	for _, part := range parts {
		switch pt := part.(type) {
		case *types.TextPart:
			text += pt.Text
		case *types.ToolPart:
			if role == agentcore.RoleAssistant {
				toolCalls = append(toolCalls, agentcore.ToolCall{
					ID:       pt.CallID,
					Function: agentcore.FunctionCall{Name: pt.Tool, Arguments: rawInput(pt.State.Input)},
					Type:     "function",
				})
				content := pt.State.Output
				if pt.State.Status == "error" {
					content = "Error: " + pt.State.Error
				}
				toolResults = append(toolResults, agentcore.Message{
					Role:       agentcore.RoleTool,
					Content:    content,
					Name:       pt.Tool,
					ToolCallID: pt.CallID,
					MessageID:  m.ID,
				})
			}
		}
	}

	if text == "" && len(toolCalls) == 0 {
		return nil
	}

	row := agentcore.Message{
		Role:      role,
		Content:   text,
		ToolCalls: toolCalls,
		MessageID: m.ID,
	}
	rows := []agentcore.Message{row}
	return append(rows, toolResults...)
}

// autoExportSessionLog mirrors a session to the C10 on-disk format in the
// background after a turn completes, making that format the continuous
// persistence path rather than something reachable only through the
// explicit export endpoint. The primary key/value storage remains the
// source of truth: failures here are logged, never returned to the loop.
func (p *Processor) autoExportSessionLog(sessionID string) {
	p.mu.Lock()
	cfg := p.sessionLogCfg
	p.mu.Unlock()
	if !cfg.Enabled {
		return
	}

	go func() {
		ctx := context.Background()

		sess, err := p.findSession(ctx, sessionID)
		if err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("session log: find session failed")
			return
		}

		msgs, err := p.loadMessages(ctx, sessionID)
		if err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("session log: load messages failed")
			return
		}

		var rows []agentcore.Message
		var agentName string
		for _, m := range msgs {
			if m.Agent != "" {
				agentName = m.Agent
			}
			parts, err := p.loadParts(ctx, m.ID)
			if err != nil {
				logging.Warn().Err(err).Str("session_id", sessionID).Str("message_id", m.ID).Msg("session log: load parts failed")
				return
			}
			rows = append(rows, messageToAgentcoreRows(m, parts)...)
		}

		dir, err := p.sessionLogDir(sessionID, cfg)
		if err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("session log: create dir failed")
			return
		}
		if err := dir.WriteMessages(rows); err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("session log: write messages failed")
			return
		}

		endTime := time.UnixMilli(sess.Time.Updated).UTC().Format(time.RFC3339)
		meta := sessionlog.Meta{
			SessionID:     sess.ID,
			StartTime:     time.UnixMilli(sess.Time.Created).UTC().Format(time.RFC3339),
			EndTime:       &endTime,
			Environment:   sessionlog.Environment{WorkingDirectory: sess.Directory},
			Title:         sess.Title,
			Stats:         stats.New().ToSnapshot(),
			TotalMessages: len(rows),
			AgentProfile:  agentName,
			GitCommit:     vcs.GetCommit(sess.Directory),
			GitBranch:     vcs.GetBranch(sess.Directory),
			Username:      os.Getenv("USER"),
			Entrypoint:    cfg.Entrypoint,
		}
		if err := dir.WriteMeta(meta); err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("session log: write meta failed")
			return
		}

		logging.Debug().Str("session_id", sessionID).Str("dir", dir.Path).Msg("session log: auto-exported")
	}()
}

// sessionLogDir returns the cached on-disk directory for sessionID,
// creating one on first use so a session's whole lifetime writes to the
// same directory rather than minting a fresh one per turn.
func (p *Processor) sessionLogDir(sessionID string, cfg types.SessionLoggingConfig) (*sessionlog.Dir, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dir, ok := p.sessionLogDirs[sessionID]; ok {
		return dir, nil
	}

	saveDir := cfg.SaveDir
	if saveDir == "" {
		saveDir = "./sessions"
	}
	prefix := cfg.SessionPrefix
	if prefix == "" {
		prefix = defaultSessionLogPrefix
	}

	dir, err := sessionlog.CreateDir(saveDir, prefix)
	if err != nil {
		return nil, err
	}
	p.sessionLogDirs[sessionID] = dir
	return dir, nil
}

func rawInput(input map[string]any) string {
	if input == nil {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}
