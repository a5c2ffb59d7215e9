// Package proxyenv edits the global proxy/SSL environment file backing
// the /proxy-setup escape hatch. It is deliberately narrow: only a fixed
// set of proxy-related keys can be read, set, or removed, and the file
// is plain dotenv syntax so the same settings load at startup.
package proxyenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Var describes one supported proxy environment variable.
type Var struct {
	Key         string
	Description string
}

// SupportedVars is the closed set of keys /proxy-setup may touch, in
// display order.
var SupportedVars = []Var{
	{"HTTP_PROXY", "Proxy URL for HTTP requests"},
	{"HTTPS_PROXY", "Proxy URL for HTTPS requests"},
	{"ALL_PROXY", "Proxy URL for all requests (fallback)"},
	{"NO_PROXY", "Comma-separated list of hosts to bypass proxy"},
	{"SSL_CERT_FILE", "Path to custom SSL certificate file"},
	{"SSL_CERT_DIR", "Path to directory containing SSL certificates"},
}

// UnknownKeyError reports a key outside SupportedVars.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	keys := make([]string, len(SupportedVars))
	for i, v := range SupportedVars {
		keys[i] = v.Key
	}
	return fmt.Sprintf("unknown key %q. Supported: %s", e.Key, strings.Join(keys, ", "))
}

func supported(key string) bool {
	for _, v := range SupportedVars {
		if v.Key == key {
			return true
		}
	}
	return false
}

// Editor reads and writes proxy variables in one dotenv file.
type Editor struct {
	Path string
}

// NewEditor returns an Editor over the given env file path.
func NewEditor(path string) *Editor {
	return &Editor{Path: path}
}

// Get returns the current value of every supported key. Keys absent from
// the file (or when the file does not exist) map to nil.
func (e *Editor) Get() map[string]*string {
	settings := make(map[string]*string, len(SupportedVars))
	for _, v := range SupportedVars {
		settings[v.Key] = nil
	}

	env, err := godotenv.Read(e.Path)
	if err != nil {
		return settings
	}
	for _, v := range SupportedVars {
		if value, ok := env[v.Key]; ok {
			settings[v.Key] = &value
		}
	}
	return settings
}

// Set writes key=value into the env file, creating the file and its
// parent directory as needed. The key must be one of SupportedVars.
func (e *Editor) Set(key, value string) error {
	key = strings.ToUpper(key)
	if !supported(key) {
		return &UnknownKeyError{Key: key}
	}

	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return err
	}

	env, err := godotenv.Read(e.Path)
	if err != nil {
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, e.Path)
}

// Unset removes the key from the env file. Removing a key from a missing
// file is a no-op; the key must still be one of SupportedVars.
func (e *Editor) Unset(key string) error {
	key = strings.ToUpper(key)
	if !supported(key) {
		return &UnknownKeyError{Key: key}
	}

	env, err := godotenv.Read(e.Path)
	if err != nil {
		return nil
	}
	delete(env, key)
	return godotenv.Write(env, e.Path)
}

// ParseCommand splits the argument portion of a /proxy-setup prompt into
// a key and an optional value. "KEY value with spaces" keeps everything
// after the first field as the value.
func ParseCommand(args string) (key string, value *string, err error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", nil, fmt.Errorf("no key provided")
	}

	parts := strings.SplitN(args, " ", 2)
	key = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		v := strings.TrimSpace(parts[1])
		if v != "" {
			value = &v
		}
	}
	return key, value, nil
}

// HelpText renders usage plus the current settings for display to the
// user when /proxy-setup is invoked with no arguments.
func (e *Editor) HelpText() string {
	var b strings.Builder
	b.WriteString("## Proxy Configuration\n\n")
	b.WriteString("Configure proxy and SSL settings for HTTP requests.\n\n")
	b.WriteString("### Usage:\n")
	b.WriteString("- `/proxy-setup` - Show this help and current settings\n")
	b.WriteString("- `/proxy-setup KEY value` - Set an environment variable\n")
	b.WriteString("- `/proxy-setup KEY` - Remove an environment variable\n\n")
	b.WriteString("### Supported Variables:\n")
	for _, v := range SupportedVars {
		fmt.Fprintf(&b, "- `%s`: %s\n", v.Key, v.Description)
	}

	b.WriteString("\n### Current Settings:\n")
	current := e.Get()
	anySet := false
	for _, v := range SupportedVars {
		if val := current[v.Key]; val != nil && *val != "" {
			fmt.Fprintf(&b, "- `%s=%s`\n", v.Key, *val)
			anySet = true
		}
	}
	if !anySet {
		b.WriteString("No proxy variables are currently set.\n")
	}
	return b.String()
}

// HandleCommand executes the argument portion of a /proxy-setup prompt
// and returns the user-facing response text. Errors are folded into the
// response rather than returned: the escape hatch never fails a turn.
func (e *Editor) HandleCommand(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return e.HelpText()
	}

	key, value, err := ParseCommand(args)
	if err != nil {
		return fmt.Sprintf("Error: %s", err)
	}

	if value != nil {
		if err := e.Set(key, *value); err != nil {
			return fmt.Sprintf("Error: %s", err)
		}
		return fmt.Sprintf("Set `%s=%s` in %s\n\nPlease start a new chat for changes to take effect.", key, *value, e.Path)
	}

	if err := e.Unset(key); err != nil {
		return fmt.Sprintf("Error: %s", err)
	}
	return fmt.Sprintf("Removed `%s` from %s\n\nPlease start a new chat for changes to take effect.", key, e.Path)
}
