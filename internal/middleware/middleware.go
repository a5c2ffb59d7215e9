// Package middleware implements the before-turn conversation middleware
// pipeline (C7): turn/price limits, auto-compaction triggers, context
// warnings, and the read-only-agent mode reminder, run in registration
// order ahead of every agent turn.
package middleware

import (
	"context"
	"fmt"

	"github.com/vibe-agent/vibe/internal/stats"
)

// Action is the outcome a middleware asks the agent loop to take.
type Action string

const (
	ActionContinue      Action = "continue"
	ActionStop          Action = "stop"
	ActionCompact       Action = "compact"
	ActionInjectMessage Action = "inject_message"
)

// ResetReason distinguishes why a pipeline is being re-armed, since some
// middlewares only clear edge-triggered state on one of the two reasons.
type ResetReason string

const (
	ResetStop    ResetReason = "stop"
	ResetCompact ResetReason = "compact"
)

// Result is what a single middleware (or the pipeline as a whole) returns
// from a before-turn check.
type Result struct {
	Action   Action
	Message  string
	Reason   string
	Metadata map[string]any
}

// continueResult is the zero-value "nothing to do" result.
func continueResult() Result { return Result{Action: ActionContinue} }

// Context is the state a middleware inspects to decide its verdict.
// Messages is left as `any` (a *[]agentcore.Message-shaped slice) rather
// than importing the session package directly, avoiding an import cycle
// between middleware and the session/agent-loop packages that own it.
type Context struct {
	Messages any
	Stats    *stats.Stats
	MaxPrice float64
}

// Middleware is one before-turn check in the pipeline. Reset re-arms any
// edge-triggered internal state (e.g. "have I already warned").
type Middleware interface {
	BeforeTurn(ctx context.Context, cc Context) (Result, error)
	Reset(reason ResetReason)
}

// TurnLimit stops the loop once stats.Steps-1 reaches MaxTurns.
type TurnLimit struct {
	MaxTurns int
}

func (m *TurnLimit) BeforeTurn(_ context.Context, cc Context) (Result, error) {
	if cc.Stats.Steps-1 >= m.MaxTurns {
		return Result{
			Action: ActionStop,
			Reason: fmt.Sprintf("Turn limit of %d reached", m.MaxTurns),
		}, nil
	}
	return continueResult(), nil
}

func (m *TurnLimit) Reset(ResetReason) {}

// PriceLimit stops the loop once accumulated session cost exceeds MaxPrice.
type PriceLimit struct {
	MaxPrice float64
}

func (m *PriceLimit) BeforeTurn(_ context.Context, cc Context) (Result, error) {
	cost := cc.Stats.SessionCost()
	if cost > m.MaxPrice {
		return Result{
			Action: ActionStop,
			Reason: fmt.Sprintf("Price limit exceeded: $%.4f > $%.2f", cost, m.MaxPrice),
		}, nil
	}
	return continueResult(), nil
}

func (m *PriceLimit) Reset(ResetReason) {}

// AutoCompact triggers a compaction pass once context_tokens reaches
// Threshold.
type AutoCompact struct {
	Threshold int
}

func (m *AutoCompact) BeforeTurn(_ context.Context, cc Context) (Result, error) {
	if cc.Stats.ContextTokens >= m.Threshold {
		return Result{
			Action: ActionCompact,
			Metadata: map[string]any{
				"old_tokens": cc.Stats.ContextTokens,
				"threshold":  m.Threshold,
			},
		}, nil
	}
	return continueResult(), nil
}

func (m *AutoCompact) Reset(ResetReason) {}

// warningTag wraps injected system warnings so a front-end can style or
// strip them, matching the bracketed-tag convention the teacher's prompt
// builder already uses for inline warnings.
const warningTag = "vibe-warning"

// ContextWarning injects a one-shot warning once context usage crosses
// ThresholdPercent of MaxContext. It never re-fires until Reset.
type ContextWarning struct {
	ThresholdPercent float64
	MaxContext       int
	hasWarned        bool
}

func (m *ContextWarning) BeforeTurn(_ context.Context, cc Context) (Result, error) {
	if m.hasWarned || m.MaxContext <= 0 {
		return continueResult(), nil
	}

	threshold := float64(m.MaxContext) * m.ThresholdPercent
	if float64(cc.Stats.ContextTokens) >= threshold {
		m.hasWarned = true
		pct := (float64(cc.Stats.ContextTokens) / float64(m.MaxContext)) * 100
		msg := fmt.Sprintf(
			"<%s>You have used %.0f%% of your total context (%d/%d tokens)</%s>",
			warningTag, pct, cc.Stats.ContextTokens, m.MaxContext, warningTag,
		)
		return Result{Action: ActionInjectMessage, Message: msg}, nil
	}
	return continueResult(), nil
}

func (m *ContextWarning) Reset(ResetReason) {
	m.hasWarned = false
}

// ProfileGetter reports the name of the currently active agent profile.
type ProfileGetter func() string

// ReadOnlyAgentReminder injects a reminder message the turn an agent
// matching AgentName becomes active, and an exit message the turn it
// stops being active — edge-triggered on the active/inactive transition,
// not level-triggered on every turn it's active.
type ReadOnlyAgentReminder struct {
	ProfileGetter ProfileGetter
	AgentName     string
	Reminder      string
	ExitMessage   string

	wasActive bool
}

func (m *ReadOnlyAgentReminder) BeforeTurn(_ context.Context, _ Context) (Result, error) {
	isActive := m.ProfileGetter() == m.AgentName
	wasActive := m.wasActive

	if wasActive && !isActive {
		m.wasActive = false
		return Result{Action: ActionInjectMessage, Message: m.ExitMessage}, nil
	}
	if isActive && !wasActive {
		m.wasActive = true
		return Result{Action: ActionInjectMessage, Message: m.Reminder}, nil
	}
	m.wasActive = isActive
	return continueResult(), nil
}

func (m *ReadOnlyAgentReminder) Reset(ResetReason) {
	m.wasActive = false
}

// Pipeline runs its middlewares in registration order every turn. The
// first STOP or COMPACT verdict short-circuits the remaining middlewares
// and is returned as-is (STOP/COMPACT outrank everything); any
// INJECT_MESSAGE verdicts seen before that point are combined into one
// newline-joined message (this is why precedence reads STOP > COMPACT >
// INJECT_MESSAGE > CONTINUE: a later middleware's STOP discards earlier
// pending injections rather than merging them).
type Pipeline struct {
	middlewares []Middleware
}

// Add appends a middleware and returns the pipeline for chaining.
func (p *Pipeline) Add(m Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, m)
	return p
}

// Reset re-arms every middleware's edge-triggered state.
func (p *Pipeline) Reset(reason ResetReason) {
	for _, m := range p.middlewares {
		m.Reset(reason)
	}
}

// RunBeforeTurn evaluates every middleware against cc in order.
func (p *Pipeline) RunBeforeTurn(ctx context.Context, cc Context) (Result, error) {
	var toInject []string

	for _, m := range p.middlewares {
		result, err := m.BeforeTurn(ctx, cc)
		if err != nil {
			return Result{}, err
		}
		switch result.Action {
		case ActionInjectMessage:
			if result.Message != "" {
				toInject = append(toInject, result.Message)
			}
		case ActionStop, ActionCompact:
			return result, nil
		}
	}

	if len(toInject) > 0 {
		combined := toInject[0]
		for _, m := range toInject[1:] {
			combined += "\n\n" + m
		}
		return Result{Action: ActionInjectMessage, Message: combined}, nil
	}

	return continueResult(), nil
}
