package permission

import (
	"encoding/json"
	"sync"

	"github.com/agnivade/levenshtein"
)

// DoomLoopThreshold is the number of consecutive identical signatures
// before a call is flagged.
const DoomLoopThreshold = 3

// fuzzyMatchMinRunes is the minimum normalized-argument length (in runes)
// at which two signatures that aren't byte-identical may still be
// considered the same call, to catch loops where the model perturbs a
// long argument (e.g. a restated file path with a trailing comment) on
// every iteration without actually changing approach.
const fuzzyMatchMinRunes = 32

// fuzzyMatchMaxEditRatio is the maximum Levenshtein edit distance,
// as a fraction of the longer string's rune length, for two long
// normalized argument strings to still count as the same signature.
const fuzzyMatchMaxEditRatio = 0.05

// signature is (tool_name, normalised_args) per the loop-detection law.
type signature struct {
	toolName string
	args     string
}

type sessionState struct {
	last  signature
	count int
	armed bool
}

// DoomLoopDetector tracks a running (last_signature, consecutive_count)
// per session and flags when the count reaches DoomLoopThreshold.
type DoomLoopDetector struct {
	mu    sync.Mutex
	state map[string]*sessionState
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{state: make(map[string]*sessionState)}
}

// Check records one tool call and reports whether it completes a run of
// DoomLoopThreshold consecutive calls with the same signature.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input any) bool {
	sig := signature{toolName: toolName, args: normalizeArgs(input)}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[sessionID]
	if !ok {
		st = &sessionState{}
		d.state[sessionID] = st
	}

	if st.armed && sameSignature(st.last, sig) {
		st.count++
	} else {
		st.last = sig
		st.count = 1
		st.armed = true
	}

	return st.count >= DoomLoopThreshold
}

// sameSignature is exact-equality for short normalized argument strings,
// and exact-equality-or-within-fuzzyMatchMaxEditRatio for long ones. Tool
// name must always match exactly.
func sameSignature(a, b signature) bool {
	if a.toolName != b.toolName {
		return false
	}
	if a.args == b.args {
		return true
	}

	runesA, runesB := []rune(a.args), []rune(b.args)
	longest := len(runesA)
	if len(runesB) > longest {
		longest = len(runesB)
	}
	if longest < fuzzyMatchMinRunes {
		return false
	}

	dist := levenshtein.ComputeDistance(a.args, b.args)
	return float64(dist) <= fuzzyMatchMaxEditRatio*float64(longest)
}

// normalizeArgs canonicalizes a tool-call input into a string where
// dict-key order never affects equality: marshaling a map[string]any (or
// a JSON-shaped value reached by round-tripping through json.Marshal)
// recurses with keys in sorted order, which is exactly what's needed for
// order-insensitive signature comparison.
func normalizeArgs(input any) string {
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}

	// Re-marshal through a generic value so a pre-sorted map or struct
	// input normalizes identically to one built key-by-key in another
	// order.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return string(data)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return string(data)
	}
	return string(normalized)
}

// Clear removes all tracked state for a session.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, sessionID)
}

// Reset clears the running count for a session without forgetting that
// the session exists, used when a different signature breaks a loop.
func (d *DoomLoopDetector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.state[sessionID]; ok {
		st.armed = false
		st.count = 0
	}
}
