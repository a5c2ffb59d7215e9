package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vibe-agent/vibe/internal/tool"
	"github.com/vibe-agent/vibe/pkg/types"
)

// ResolvedToolCall is a tool call whose arguments have been looked up
// against the registry and validated against the tool's JSON schema (C4):
// it is safe to hand Input straight to Tool.Execute.
type ResolvedToolCall struct {
	ToolPart *types.ToolPart
	Tool     tool.Tool
	Input    json.RawMessage
}

// FailedToolCall is a tool call that could not be resolved: an unknown
// tool name, unmarshalable arguments, or arguments that fail schema
// validation. It carries enough detail to report back to the model
// instead of silently passing through malformed input.
type FailedToolCall struct {
	ToolPart *types.ToolPart
	Reason   string
}

var toolSchemaCache sync.Map

// compileToolSchema compiles (and caches) the JSON Schema document a tool
// advertises via Parameters().
func compileToolSchema(toolID string, schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := toolID + ":" + string(schemaJSON)
	if cached, ok := toolSchemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString(toolID+".schema.json", string(schemaJSON))
	if err != nil {
		return nil, err
	}
	toolSchemaCache.Store(key, compiled)
	return compiled, nil
}

// resolveToolCall looks up the named tool in the registry and validates
// the call's arguments against its JSON schema before anything downstream
// ever sees them. LLM-supplied tool-call arguments never reach Tool.Execute
// unvalidated: a missing tool or a schema mismatch resolves to a
// FailedToolCall instead.
func (p *Processor) resolveToolCall(toolPart *types.ToolPart) (*ResolvedToolCall, *FailedToolCall) {
	t, ok := p.toolRegistry.Get(toolPart.Tool)
	if !ok {
		return nil, &FailedToolCall{ToolPart: toolPart, Reason: fmt.Sprintf("tool not found: %s", toolPart.Tool)}
	}

	inputJSON, err := json.Marshal(toolPart.State.Input)
	if err != nil {
		return nil, &FailedToolCall{ToolPart: toolPart, Reason: fmt.Sprintf("failed to marshal input: %v", err)}
	}

	if schemaJSON := t.Parameters(); len(schemaJSON) > 0 {
		compiled, err := compileToolSchema(t.ID(), schemaJSON)
		if err != nil {
			return nil, &FailedToolCall{ToolPart: toolPart, Reason: fmt.Sprintf("invalid schema for %s: %v", t.ID(), err)}
		}

		var instance any
		if err := json.Unmarshal(inputJSON, &instance); err != nil {
			return nil, &FailedToolCall{ToolPart: toolPart, Reason: fmt.Sprintf("failed to decode arguments: %v", err)}
		}
		if err := compiled.Validate(instance); err != nil {
			return nil, &FailedToolCall{ToolPart: toolPart, Reason: fmt.Sprintf("arguments for %s do not match its schema: %v", toolPart.Tool, err)}
		}
	}

	return &ResolvedToolCall{ToolPart: toolPart, Tool: t, Input: inputJSON}, nil
}
