package types

import "encoding/json"

// Message represents either a User or Assistant message in a conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	Time      MessageTime `json:"time"`

	// User-specific fields
	Agent   string              `json:"agent,omitempty"`
	Model   *ModelRef           `json:"model,omitempty"`
	System  *string             `json:"system,omitempty"`
	Tools   map[string]bool     `json:"tools,omitempty"`
	Summary *UserMessageSummary `json:"-"`

	// Assistant-specific fields
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	ParentID   string        `json:"parentID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	IsSummary  bool          `json:"-"`

	// Path records the working directory the message was sent from, so
	// file-relative tool calls (bash, edit) resolve against the right root
	// even if the server's own cwd differs.
	Path *MessagePath `json:"path,omitempty"`
}

// UserMessageSummary holds the compaction summary attached to a user message.
type UserMessageSummary struct {
	Title string     `json:"title"`
	Body  string     `json:"body,omitempty"`
	Diffs []FileDiff `json:"diffs,omitempty"`
}

// messageAlias mirrors Message's JSON-tagged fields without the custom
// Summary/IsSummary handling, so MarshalJSON/UnmarshalJSON can delegate to it.
type messageAlias struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	Time      MessageTime `json:"time"`

	Agent  string          `json:"agent,omitempty"`
	Model  *ModelRef       `json:"model,omitempty"`
	System *string         `json:"system,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`

	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	ParentID   string        `json:"parentID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`

	Path *MessagePath `json:"path,omitempty"`

	Summary json.RawMessage `json:"summary,omitempty"`
}

// MarshalJSON encodes the message, representing the summary as an object for
// user messages and a boolean for assistant messages.
func (m Message) MarshalJSON() ([]byte, error) {
	alias := messageAlias{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Time:       m.Time,
		Agent:      m.Agent,
		Model:      m.Model,
		System:     m.System,
		Tools:      m.Tools,
		ModelID:    m.ModelID,
		ProviderID: m.ProviderID,
		ParentID:   m.ParentID,
		Mode:       m.Mode,
		Finish:     m.Finish,
		Cost:       m.Cost,
		Tokens:     m.Tokens,
		Error:      m.Error,
		Path:       m.Path,
	}

	if m.Role == "user" {
		if m.Summary != nil {
			raw, err := json.Marshal(m.Summary)
			if err != nil {
				return nil, err
			}
			alias.Summary = raw
		}
	} else if m.IsSummary {
		raw, err := json.Marshal(true)
		if err != nil {
			return nil, err
		}
		alias.Summary = raw
	}

	return json.Marshal(alias)
}

// UnmarshalJSON decodes a message, interpreting the summary field as an
// object for user messages and a boolean for assistant messages.
func (m *Message) UnmarshalJSON(data []byte) error {
	var alias messageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	*m = Message{
		ID:         alias.ID,
		SessionID:  alias.SessionID,
		Role:       alias.Role,
		Time:       alias.Time,
		Agent:      alias.Agent,
		Model:      alias.Model,
		System:     alias.System,
		Tools:      alias.Tools,
		ModelID:    alias.ModelID,
		ProviderID: alias.ProviderID,
		ParentID:   alias.ParentID,
		Mode:       alias.Mode,
		Finish:     alias.Finish,
		Cost:       alias.Cost,
		Tokens:     alias.Tokens,
		Error:      alias.Error,
		Path:       alias.Path,
	}

	if len(alias.Summary) == 0 {
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(alias.Summary, &asBool); err == nil {
		m.IsSummary = asBool
		return nil
	}

	var summary UserMessageSummary
	if err := json.Unmarshal(alias.Summary, &summary); err != nil {
		return err
	}
	m.Summary = &summary
	return nil
}

// MessagePath records the directories a message's tool calls should
// resolve relative to.
type MessagePath struct {
	Cwd  string `json:"cwd"`
	Root string `json:"root"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Type    string `json:"type"` // e.g. "api" | "abort" | "max_steps" | "turn_limit" | "output_length"
	Message string `json:"message"`
}
