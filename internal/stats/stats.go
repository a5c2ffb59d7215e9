// Package stats tracks per-session token usage, pricing, and tool-call
// counters (C13), with a listener registry so a UI or session logger can
// react to specific fields changing without polling.
package stats

import "sync"

// Listener is notified with the stats snapshot after the field it is
// registered against changes.
type Listener func(*Stats)

// Stats accumulates session-lifetime and last-turn counters. All mutation
// goes through its methods so registered listeners fire consistently; the
// zero value is ready to use.
type Stats struct {
	mu sync.Mutex

	Steps int

	SessionPromptTokens     int
	SessionCompletionTokens int

	ToolCallsAgreed    int
	ToolCallsRejected  int
	ToolCallsFailed    int
	ToolCallsSucceeded int

	ContextTokens int

	LastTurnPromptTokens     int
	LastTurnCompletionTokens int
	LastTurnDuration         float64
	TokensPerSecond          float64

	InputPricePerMillion  float64
	OutputPricePerMillion float64

	listeners map[string]Listener
}

// New returns a ready-to-use Stats with no listeners attached.
func New() *Stats {
	return &Stats{listeners: make(map[string]Listener)}
}

// AddListener registers (or replaces) the listener fired whenever the
// named field changes. Field names are the exported Go field names
// (e.g. "ContextTokens", "SessionPromptTokens").
func (s *Stats) AddListener(field string, l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[string]Listener)
	}
	s.listeners[field] = l
}

// TriggerListeners fires every registered listener with the current
// snapshot, regardless of which field last changed.
func (s *Stats) TriggerListeners() {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (s *Stats) notify(field string) {
	if l, ok := s.listeners[field]; ok {
		l(s)
	}
}

// RecordTurnUsage folds one turn's prompt/completion token counts into the
// session-cumulative and last-turn fields, and fires the ContextTokens,
// SessionPromptTokens, and SessionCompletionTokens listeners.
func (s *Stats) RecordTurnUsage(promptTokens, completionTokens, contextTokens int, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SessionPromptTokens += promptTokens
	s.SessionCompletionTokens += completionTokens
	s.LastTurnPromptTokens = promptTokens
	s.LastTurnCompletionTokens = completionTokens
	s.LastTurnDuration = duration
	if duration > 0 {
		s.TokensPerSecond = float64(completionTokens) / duration
	}
	s.ContextTokens = contextTokens
	s.Steps++

	s.notify("SessionPromptTokens")
	s.notify("SessionCompletionTokens")
	s.notify("ContextTokens")
	s.notify("Steps")
}

// RecordToolOutcome increments exactly one of the four tool-call counters.
type ToolOutcome int

const (
	ToolAgreed ToolOutcome = iota
	ToolRejected
	ToolFailed
	ToolSucceeded
)

func (s *Stats) RecordToolOutcome(outcome ToolOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	field := ""
	switch outcome {
	case ToolAgreed:
		s.ToolCallsAgreed++
		field = "ToolCallsAgreed"
	case ToolRejected:
		s.ToolCallsRejected++
		field = "ToolCallsRejected"
	case ToolFailed:
		s.ToolCallsFailed++
		field = "ToolCallsFailed"
	case ToolSucceeded:
		s.ToolCallsSucceeded++
		field = "ToolCallsSucceeded"
	}
	s.notify(field)
}

// UpdatePricing sets per-million token pricing used by SessionCost. Used
// when the active model changes mid-session; existing accumulated tokens
// are re-priced at the new rate for any subsequent SessionCost call — a
// known approximation when models change mid-session.
func (s *Stats) UpdatePricing(inputPricePerMillion, outputPricePerMillion float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InputPricePerMillion = inputPricePerMillion
	s.OutputPricePerMillion = outputPricePerMillion
	s.notify("InputPricePerMillion")
}

// ResetContextState clears context-related fields (used after compaction
// or a config reload) while preserving cumulative session totals and
// tool-call counters.
func (s *Stats) ResetContextState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContextTokens = 0
	s.LastTurnPromptTokens = 0
	s.LastTurnCompletionTokens = 0
	s.LastTurnDuration = 0
	s.TokensPerSecond = 0
	s.notify("ContextTokens")
}

// CreateFresh returns a zeroed Stats that carries over the previous
// Stats' listener registrations, for the case a whole new Stats object
// replaces this one (rather than calling ResetContextState) but external
// observers should keep receiving callbacks.
func CreateFresh(previous *Stats) *Stats {
	fresh := New()
	if previous != nil {
		previous.mu.Lock()
		for k, v := range previous.listeners {
			fresh.listeners[k] = v
		}
		previous.mu.Unlock()
	}
	return fresh
}

// SessionTotalLLMTokens is SessionPromptTokens + SessionCompletionTokens.
func (s *Stats) SessionTotalLLMTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionPromptTokens + s.SessionCompletionTokens
}

// LastTurnTotalTokens is LastTurnPromptTokens + LastTurnCompletionTokens.
func (s *Stats) LastTurnTotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastTurnPromptTokens + s.LastTurnCompletionTokens
}

// SessionCost is a worst-case dollar estimate: actual cost may be lower
// due to prompt caching, and if the model changed mid-session this uses
// current pricing for all accumulated tokens.
func (s *Stats) SessionCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	inputCost := (float64(s.SessionPromptTokens) / 1_000_000) * s.InputPricePerMillion
	outputCost := (float64(s.SessionCompletionTokens) / 1_000_000) * s.OutputPricePerMillion
	return inputCost + outputCost
}

// Snapshot is a point-in-time copy safe to serialize or compare, without
// holding Stats' internal lock or listener map.
type Snapshot struct {
	Steps                    int     `json:"steps"`
	SessionPromptTokens      int     `json:"session_prompt_tokens"`
	SessionCompletionTokens  int     `json:"session_completion_tokens"`
	ToolCallsAgreed          int     `json:"tool_calls_agreed"`
	ToolCallsRejected        int     `json:"tool_calls_rejected"`
	ToolCallsFailed          int     `json:"tool_calls_failed"`
	ToolCallsSucceeded       int     `json:"tool_calls_succeeded"`
	ContextTokens            int     `json:"context_tokens"`
	LastTurnPromptTokens     int     `json:"last_turn_prompt_tokens"`
	LastTurnCompletionTokens int     `json:"last_turn_completion_tokens"`
	LastTurnDuration         float64 `json:"last_turn_duration"`
	TokensPerSecond          float64 `json:"tokens_per_second"`
	SessionTotalLLMTokens    int     `json:"session_total_llm_tokens"`
	LastTurnTotalTokens      int     `json:"last_turn_total_tokens"`
	SessionCost              float64 `json:"session_cost"`
}

// ToSnapshot captures the current values, including the computed fields,
// for persistence or display.
func (s *Stats) ToSnapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Steps:                    s.Steps,
		SessionPromptTokens:      s.SessionPromptTokens,
		SessionCompletionTokens:  s.SessionCompletionTokens,
		ToolCallsAgreed:          s.ToolCallsAgreed,
		ToolCallsRejected:        s.ToolCallsRejected,
		ToolCallsFailed:          s.ToolCallsFailed,
		ToolCallsSucceeded:       s.ToolCallsSucceeded,
		ContextTokens:            s.ContextTokens,
		LastTurnPromptTokens:     s.LastTurnPromptTokens,
		LastTurnCompletionTokens: s.LastTurnCompletionTokens,
		LastTurnDuration:         s.LastTurnDuration,
		TokensPerSecond:          s.TokensPerSecond,
	}
	s.mu.Unlock()
	snap.SessionTotalLLMTokens = s.SessionTotalLLMTokens()
	snap.LastTurnTotalTokens = s.LastTurnTotalTokens()
	snap.SessionCost = s.SessionCost()
	return snap
}
