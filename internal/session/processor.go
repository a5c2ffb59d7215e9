package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/vibe-agent/vibe/internal/middleware"
	"github.com/vibe-agent/vibe/internal/permission"
	"github.com/vibe-agent/vibe/internal/provider"
	"github.com/vibe-agent/vibe/internal/sessionlog"
	"github.com/vibe-agent/vibe/internal/stats"
	"github.com/vibe-agent/vibe/internal/storage"
	"github.com/vibe-agent/vibe/internal/tool"
	"github.com/vibe-agent/vibe/pkg/types"
)

// Processor handles message processing and the agentic loop.
type Processor struct {
	mu sync.Mutex

	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	storage           *storage.Storage
	permissionChecker *permission.Checker
	doomLoopDetector  *permission.DoomLoopDetector

	// Default provider and model to use when not specified
	defaultProviderID string
	defaultModelID    string

	// Active sessions being processed
	sessions map[string]*sessionState

	// sessionLogCfg is the C10 on-disk log configuration. When enabled,
	// every completed turn mirrors the session to the on-disk format in
	// the background, rather than leaving it reachable only through the
	// explicit export endpoint.
	sessionLogCfg types.SessionLoggingConfig
	// sessionLogDirs caches the on-disk directory handle assigned to each
	// session on its first auto-export, so later turns rewrite the same
	// directory instead of minting a fresh one each time.
	sessionLogDirs map[string]*sessionlog.Dir
}

// sessionState tracks the state of an active session being processed.
type sessionState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	message *types.Message
	parts   []types.Part
	waiters []chan error
	step    int
	retries int

	// stats is this session's C13 usage/cost accumulator, fed by every
	// turn and read by the C7 middleware pipeline's limit checks.
	stats *stats.Stats
	// pipeline is the per-session C7 before-turn middleware chain; its
	// edge-triggered middlewares (ContextWarning, ReadOnlyAgentReminder)
	// carry state scoped to this session, not the whole Processor.
	pipeline *middleware.Pipeline
	// pendingNotices holds ActionInjectMessage text queued by the pipeline
	// until the next buildCompletionRequest call folds it into the system
	// prompt and clears it.
	pendingNotices []string
}

// ProcessCallback is called with message updates during processing.
type ProcessCallback func(msg *types.Message, parts []types.Part)

// CompactionPart re-exports types.CompactionPart for package-local callers.
type CompactionPart = types.CompactionPart

// NewProcessor creates a new session processor.
func NewProcessor(
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	store *storage.Storage,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Processor {
	// Use reasonable defaults if not specified
	if defaultProviderID == "" {
		defaultProviderID = "anthropic"
	}
	if defaultModelID == "" {
		defaultModelID = "claude-sonnet-4-20250514"
	}
	return &Processor{
		providerRegistry:  providerReg,
		toolRegistry:      toolReg,
		storage:           store,
		permissionChecker: permChecker,
		doomLoopDetector:  permission.NewDoomLoopDetector(),
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*sessionState),
		sessionLogDirs:    make(map[string]*sessionlog.Dir),
	}
}

// ClearSessionState discards a session's permission approvals and doom-loop
// tracking, e.g. once the session itself has been deleted and this state
// would otherwise leak for the lifetime of the process.
func (p *Processor) ClearSessionState(sessionID string) {
	if p.permissionChecker != nil {
		p.permissionChecker.ClearSession(sessionID)
	}
	if p.doomLoopDetector != nil {
		p.doomLoopDetector.Reset(sessionID)
	}
}

// ConfigureSessionLogging enables or disables the C10 on-disk log mirror
// for every session this processor runs. Call once at startup; changing it
// mid-run only affects turns completed afterward.
func (p *Processor) ConfigureSessionLogging(cfg types.SessionLoggingConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionLogCfg = cfg
}

// buildMiddlewarePipeline assembles the C7 before-turn pipeline for one
// agent turn loop: turn and price limits, the auto-compact trigger, a
// context-usage warning, and (when the agent is read-only) the read-only
// reminder, in that registration order.
func buildMiddlewarePipeline(agent *Agent) *middleware.Pipeline {
	pipeline := &middleware.Pipeline{}

	maxTurns := agent.MaxSteps
	if maxTurns <= 0 {
		maxTurns = MaxSteps
	}
	pipeline.Add(&middleware.TurnLimit{MaxTurns: maxTurns})

	if agent.MaxPrice > 0 {
		pipeline.Add(&middleware.PriceLimit{MaxPrice: agent.MaxPrice})
	}

	pipeline.Add(&middleware.AutoCompact{Threshold: MaxContextTokens})
	pipeline.Add(&middleware.ContextWarning{ThresholdPercent: 0.5, MaxContext: MaxContextTokens})

	if agent.ReadOnly {
		pipeline.Add(&middleware.ReadOnlyAgentReminder{
			ProfileGetter: readOnlyProfileGetter(agent),
			AgentName:     readOnlyProfileTag,
			Reminder:      "You are running in read-only mode: no file writes or command execution are permitted this turn.",
			ExitMessage:   "Read-only mode has ended.",
		})
	}

	return pipeline
}

// Process handles a new user message and generates an assistant response.
// This is the main entry point for the agentic loop.
func (p *Processor) Process(ctx context.Context, sessionID string, agent *Agent, callback ProcessCallback) error {
	p.mu.Lock()

	// Check if session is already processing
	if state, ok := p.sessions[sessionID]; ok {
		// Queue this request
		waiter := make(chan error, 1)
		state.waiters = append(state.waiters, waiter)
		p.mu.Unlock()

		// Wait for current processing to complete
		select {
		case err := <-waiter:
			if err != nil {
				return err
			}
			// Retry processing
			return p.Process(ctx, sessionID, agent, callback)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Create new session state
	if agent == nil {
		agent = DefaultAgent()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	state := &sessionState{
		ctx:      loopCtx,
		cancel:   cancel,
		stats:    stats.New(),
		pipeline: buildMiddlewarePipeline(agent),
	}
	p.sessions[sessionID] = state
	p.mu.Unlock()

	// Ensure cleanup
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sessionID)
		// sessionLogDirs deliberately outlives this call: a session spans
		// many Process calls (one per user message) and the on-disk mirror
		// must keep rewriting the same directory across all of them.

		// Notify waiters
		for _, waiter := range state.waiters {
			waiter <- nil
		}
		p.mu.Unlock()
	}()

	// Run the agentic loop
	return p.runLoop(loopCtx, sessionID, state, agent, callback)
}

// Abort cancels processing for a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}

	state.cancel()
	return nil
}

// IsProcessing returns whether a session is currently processing.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// GetActiveState returns the current state for a processing session.
func (p *Processor) GetActiveState(sessionID string) (*types.Message, []types.Part, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	return state.message, state.parts, true
}
