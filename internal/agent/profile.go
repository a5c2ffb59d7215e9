package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// profileSchemaConstraint is the range of profile-file schema versions
// this build understands. Files declaring an incompatible schema_version
// are skipped rather than half-loaded.
var profileSchemaConstraint, _ = semver.NewConstraint("^1")

// Profile is a named bundle of config overrides (C9). Overrides are held
// as a raw map so DeepMerge's list-replace rule can operate on them
// exactly as loaded from a profile file, with no lossy typed round-trip.
type Profile struct {
	Name        string
	DisplayName string
	Description string
	Safety      string // safe | neutral | destructive | yolo
	Type        string // agent | subagent
	Overrides   map[string]any
}

// ApplyToConfig deep-merges the profile's overrides onto a base agent
// config (both represented as generic maps), per the agent-profile
// override law in spec §3/§9: dict keys recurse, list-valued keys are
// replaced wholesale.
func (p *Profile) ApplyToConfig(base map[string]any) map[string]any {
	return DeepMerge(base, p.Overrides)
}

// ApplyToAgent applies a profile's overrides onto a concrete *Agent by
// round-tripping through JSON so DeepMerge sees the same map[string]any
// shape a TOML/YAML profile file produces.
func ApplyToAgent(base *Agent, overrides map[string]any) (*Agent, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal base for profile merge: %w", err)
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, fmt.Errorf("agent: unmarshal base for profile merge: %w", err)
	}

	merged := DeepMerge(baseMap, overrides)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal merged profile: %w", err)
	}
	result := &Agent{}
	if err := json.Unmarshal(mergedJSON, result); err != nil {
		return nil, fmt.Errorf("agent: unmarshal merged profile: %w", err)
	}
	return result, nil
}

// ProfileManager discovers profile files (YAML) from project-local and
// user-global search paths, holds the active profile name, and can watch
// those paths for live reload.
type ProfileManager struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	active   string

	enabledAgents  []string
	disabledAgents []string

	watcher *fsnotify.Watcher
}

// NewProfileManager creates an empty manager with "build" active by default.
func NewProfileManager() *ProfileManager {
	return &ProfileManager{
		profiles: make(map[string]*Profile),
		active:   "build",
	}
}

// LoadPaths reads every *.yaml/*.yml file in the given directories as a
// profile definition. Missing directories are skipped silently.
func (m *ProfileManager) LoadPaths(paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var doc struct {
				SchemaVersion string         `yaml:"schema_version"`
				Name          string         `yaml:"name"`
				DisplayName   string         `yaml:"display_name"`
				Description   string         `yaml:"description"`
				Safety        string         `yaml:"safety"`
				Type          string         `yaml:"type"`
				Overrides     map[string]any `yaml:"overrides"`
			}
			if err := yaml.Unmarshal(data, &doc); err != nil {
				continue
			}
			if doc.SchemaVersion != "" {
				v, err := semver.NewVersion(doc.SchemaVersion)
				if err != nil || !profileSchemaConstraint.Check(v) {
					continue
				}
			}
			if doc.Name == "" {
				doc.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			}
			m.profiles[doc.Name] = &Profile{
				Name:        doc.Name,
				DisplayName: doc.DisplayName,
				Description: doc.Description,
				Safety:      doc.Safety,
				Type:        doc.Type,
				Overrides:   doc.Overrides,
			}
		}
	}
	return nil
}

// Watch starts watching the given directories, re-running LoadPaths on
// any filesystem event. Call Close to stop.
func (m *ProfileManager) Watch(paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent: create profile watcher: %w", err)
	}
	for _, dir := range paths {
		_ = w.Add(dir) // best-effort; nonexistent dirs are skipped by the OS call failing silently upstream
	}
	m.watcher = w

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				_ = m.LoadPaths(paths...)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the filesystem watcher, if any.
func (m *ProfileManager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Get returns a loaded profile by name.
func (m *ProfileManager) Get(name string) (*Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[name]
	return p, ok
}

// Active returns the active profile name.
func (m *ProfileManager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SetActive switches the active profile name. The caller (owning agent
// loop) is responsible for rebuilding its tool manager, system prompt,
// middleware state, and stats pricing afterward (C9 switching contract).
func (m *ProfileManager) SetActive(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = name
}

// SetFilters configures the enabled/disabled agent name filters. Entries
// may be plain names, "re:<regex>" patterns, or glob patterns.
func (m *ProfileManager) SetFilters(enabled, disabled []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabledAgents = enabled
	m.disabledAgents = disabled
}

// AvailableAgents returns the names of all loaded profiles not excluded
// by the disabled-agents filter and, if the allowlist is non-empty,
// present in the enabled-agents filter (allowlist takes precedence).
func (m *ProfileManager) AvailableAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name := range m.profiles {
		if len(m.enabledAgents) > 0 {
			// The allowlist takes precedence: when set, it alone decides.
			if matchAny(m.enabledAgents, name) {
				out = append(out, name)
			}
			continue
		}
		if matchAny(m.disabledAgents, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile(strings.TrimPrefix(p, "re:"))
			if err == nil && re.MatchString(name) {
				return true
			}
			continue
		}
		if matchWildcard(p, name) {
			return true
		}
	}
	return false
}
