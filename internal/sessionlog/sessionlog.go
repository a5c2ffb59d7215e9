// Package sessionlog implements the on-disk session format (C10): one
// directory per session holding a messages.jsonl and a meta.json, both
// rewritten whole on every save, discovered by a strict directory-name convention
// rather than a database or a generic key/value store.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vibe-agent/vibe/internal/agentcore"
	"github.com/vibe-agent/vibe/internal/stats"
	"github.com/vibe-agent/vibe/internal/storage"
)

// dirNameRe matches "<prefix>_YYYYMMDD_HHMMSS_<8 lowercase-alnum id>".
var dirNameRe = regexp.MustCompile(`^([a-zA-Z0-9-]+)_(\d{8})_(\d{6})_([a-z0-9]{8})$`)

const (
	messagesFile = "messages.jsonl"
	metaFile     = "meta.json"
)

// Environment mirrors the subset of session metadata that identifies
// where a session ran.
type Environment struct {
	WorkingDirectory string `json:"working_directory"`
}

// Meta is the full contents of meta.json.
type Meta struct {
	SessionID     string         `json:"session_id"`
	StartTime     string         `json:"start_time"`
	EndTime       *string        `json:"end_time,omitempty"`
	Environment   Environment    `json:"environment"`
	Title         string         `json:"title,omitempty"`
	Stats         stats.Snapshot `json:"stats"`
	TotalMessages int            `json:"total_messages"`
	AgentProfile  string         `json:"agent_profile,omitempty"`
	ToolStates    map[string]any `json:"tool_states,omitempty"`
	GitCommit     string         `json:"git_commit,omitempty"`
	GitBranch     string         `json:"git_branch,omitempty"`
	Username      string         `json:"username,omitempty"`
	Entrypoint    string         `json:"entrypoint,omitempty"`
}

// Dir is a handle onto one session directory.
type Dir struct {
	Path      string
	Prefix    string
	SessionID string
}

// NewDirName builds a directory name for a fresh session: "<prefix>_<UTC
// timestamp>_<8-char lowercase id>". The id is derived from a ULID's
// lowercased tail so it is both sortable-adjacent and regex-conformant.
func NewDirName(prefix string, now time.Time) string {
	id := strings.ToLower(ulid.Make().String())
	idSuffix := id[len(id)-8:]
	return fmt.Sprintf("%s_%s_%s", prefix, now.UTC().Format("20060102_150405"), idSuffix)
}

// CreateDir creates a fresh session directory under basePath and returns
// a handle to it.
func CreateDir(basePath, prefix string) (*Dir, error) {
	name := NewDirName(prefix, time.Now())
	full := filepath.Join(basePath, name)
	if err := os.MkdirAll(full, 0755); err != nil {
		return nil, fmt.Errorf("sessionlog: create session dir: %w", err)
	}
	m := dirNameRe.FindStringSubmatch(name)
	sessionID := ""
	if m != nil {
		sessionID = m[4]
	}
	return &Dir{Path: full, Prefix: prefix, SessionID: sessionID}, nil
}

// IsValidDirName reports whether name conforms to the session directory
// naming convention for the given prefix.
func IsValidDirName(prefix, name string) bool {
	m := dirNameRe.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	return m[1] == prefix
}

// messageRow is the JSON shape written per line; omitempty keeps rows
// for non-tool messages free of irrelevant fields.
type messageRow struct {
	Role               agentcore.Role       `json:"role"`
	Content            string               `json:"content,omitempty"`
	ReasoningContent   string               `json:"reasoning_content,omitempty"`
	ReasoningSignature string               `json:"reasoning_signature,omitempty"`
	ToolCalls          []agentcore.ToolCall `json:"tool_calls,omitempty"`
	Name               string               `json:"name,omitempty"`
	ToolCallID         string               `json:"tool_call_id,omitempty"`
	MessageID          string               `json:"message_id,omitempty"`
}

func toRow(m agentcore.Message) messageRow {
	return messageRow{
		Role:               m.Role,
		Content:            m.Content,
		ReasoningContent:   m.ReasoningContent,
		ReasoningSignature: m.ReasoningSignature,
		ToolCalls:          m.ToolCalls,
		Name:               m.Name,
		ToolCallID:         m.ToolCallID,
		MessageID:          m.MessageID,
	}
}

func fromRow(r messageRow) agentcore.Message {
	return agentcore.Message{
		Role:               r.Role,
		Content:            r.Content,
		ReasoningContent:   r.ReasoningContent,
		ReasoningSignature: r.ReasoningSignature,
		ToolCalls:          r.ToolCalls,
		Name:               r.Name,
		ToolCallID:         r.ToolCallID,
		MessageID:          r.MessageID,
	}
}

// WriteMessages atomically rewrites messages.jsonl with the full current
// message list — the simplest correct option, accepted over incremental
// append since content is escaped per line and sessions are not so large
// that a full rewrite is a bottleneck.
func (d *Dir) WriteMessages(messages []agentcore.Message) error {
	path := filepath.Join(d.Path, messagesFile)
	lock := storage.NewFileLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("sessionlog: lock %s: %w", messagesFile, err)
	}
	defer lock.Unlock()

	var buf strings.Builder
	for _, m := range messages {
		data, err := json.Marshal(toRow(m))
		if err != nil {
			return fmt.Errorf("sessionlog: marshal message row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("sessionlog: write temp messages file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionlog: rename messages file: %w", err)
	}
	return nil
}

// WriteMeta atomically rewrites meta.json.
func (d *Dir) WriteMeta(meta Meta) error {
	path := filepath.Join(d.Path, metaFile)
	lock := storage.NewFileLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("sessionlog: lock %s: %w", metaFile, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionlog: marshal meta: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("sessionlog: write temp meta file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionlog: rename meta file: %w", err)
	}
	return nil
}

// LoadSession reads messages.jsonl (dropping system-role rows; a fresh
// system prompt is regenerated on load) and meta.json.
func LoadSession(dirPath string) ([]agentcore.Message, *Meta, error) {
	f, err := os.Open(filepath.Join(dirPath, messagesFile))
	if err != nil {
		return nil, nil, fmt.Errorf("sessionlog: open %s: %w", messagesFile, err)
	}
	defer f.Close()

	var messages []agentcore.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row messageRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, nil, fmt.Errorf("sessionlog: parse message row: %w", err)
		}
		if row.Role == agentcore.RoleSystem {
			continue
		}
		messages = append(messages, fromRow(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("sessionlog: scan %s: %w", messagesFile, err)
	}

	metaData, err := os.ReadFile(filepath.Join(dirPath, metaFile))
	if err != nil {
		return nil, nil, fmt.Errorf("sessionlog: read %s: %w", metaFile, err)
	}
	var meta Meta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, fmt.Errorf("sessionlog: parse %s: %w", metaFile, err)
	}

	return messages, &meta, nil
}

// isValidSessionDir implements the "valid session" predicate: messages.jsonl
// exists, is non-empty, and its first line parses to a JSON object (not an
// array); meta.json parses to an object. Any I/O error (including a
// permission-stripped file) counts as invalid.
func isValidSessionDir(dirPath string) bool {
	msgData, err := os.ReadFile(filepath.Join(dirPath, messagesFile))
	if err != nil || len(strings.TrimSpace(string(msgData))) == 0 {
		return false
	}
	firstLine := strings.TrimSpace(strings.SplitN(string(msgData), "\n", 2)[0])
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(firstLine), &probe); err != nil {
		return false
	}
	if len(probe) == 0 || probe[0] != '{' {
		return false
	}

	metaData, err := os.ReadFile(filepath.Join(dirPath, metaFile))
	if err != nil {
		return false
	}
	var metaProbe json.RawMessage
	if err := json.Unmarshal(metaData, &metaProbe); err != nil || len(metaProbe) == 0 || metaProbe[0] != '{' {
		return false
	}
	return true
}

type sessionEntry struct {
	path    string
	name    string
	modTime time.Time
}

func listValidSessions(basePath, prefix string) ([]sessionEntry, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionlog: read %s: %w", basePath, err)
	}

	var out []sessionEntry
	for _, e := range entries {
		if !e.IsDir() || !IsValidDirName(prefix, e.Name()) {
			continue
		}
		full := filepath.Join(basePath, e.Name())
		if !isValidSessionDir(full) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, sessionEntry{path: full, name: e.Name(), modTime: info.ModTime()})
	}
	return out, nil
}

// FindLatestSession returns the most recently modified valid session
// directory under basePath, or "" if none exist.
func FindLatestSession(basePath, prefix string) (string, error) {
	entries, err := listValidSessions(basePath, prefix)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.After(entries[j].modTime) })
	return entries[0].path, nil
}

// FindSessionByID matches a full or trailing-prefix session id, returning
// the most recently modified match on collision.
func FindSessionByID(basePath, prefix, id string) (string, error) {
	entries, err := listValidSessions(basePath, prefix)
	if err != nil {
		return "", err
	}

	var matches []sessionEntry
	for _, e := range entries {
		m := dirNameRe.FindStringSubmatch(e.name)
		if m == nil {
			continue
		}
		sessionID := m[4]
		if sessionID == id || strings.HasPrefix(sessionID, id) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })
	return matches[0].path, nil
}

// ListSessions enumerates every valid session directory, optionally
// filtering by meta.json's environment.working_directory.
func ListSessions(basePath, prefix string, cwd string) ([]string, error) {
	entries, err := listValidSessions(basePath, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.After(entries[j].modTime) })

	var out []string
	for _, e := range entries {
		if cwd == "" {
			out = append(out, e.path)
			continue
		}
		metaData, err := os.ReadFile(filepath.Join(e.path, metaFile))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(metaData, &meta); err != nil {
			continue
		}
		if meta.Environment.WorkingDirectory == cwd {
			out = append(out, e.path)
		}
	}
	return out, nil
}

const (
	placeholderMissingSession = "(no prior messages)"
	placeholderEmptyMessage   = "(empty message)"
)

// GetFirstUserMessage returns the first user row's text with newlines
// collapsed to spaces, or a canonical placeholder if the session or the
// message is missing, empty, or whitespace-only.
func GetFirstUserMessage(dirPath string) (string, error) {
	messages, _, err := LoadSession(dirPath)
	if err != nil {
		return placeholderMissingSession, err
	}
	for _, m := range messages {
		if m.Role != agentcore.RoleUser {
			continue
		}
		collapsed := strings.ReplaceAll(m.Content, "\n", " ")
		if strings.TrimSpace(collapsed) == "" {
			return placeholderEmptyMessage, nil
		}
		return collapsed, nil
	}
	return placeholderMissingSession, nil
}
