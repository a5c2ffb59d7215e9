// Package config provides configuration loading, merging, and path management for OpenCode.
//
// This package handles the complex configuration system that supports multiple sources
// and formats, with a hierarchical loading strategy that ensures proper precedence
// and compatibility with both TypeScript and Go implementations.
//
// # Configuration Loading
//
// The Load function merges configuration from these sources, later ones
// overriding earlier ones:
//
//  1. Global config: opencode.json, then opencode.jsonc, in the XDG config
//     directory (~/.config/opencode/)
//  2. Project config: opencode.json, then opencode.jsonc, in <directory>/.opencode/
//  3. Environment variables
//
// Files that are missing or fail to parse are skipped. Load does not read
// ~/.opencode/, does not walk up from the directory to parent directories, and
// does not read OPENCODE_CONFIG or OPENCODE_CONFIG_CONTENT.
//
// # Supported Formats
//
// The package supports both JSON and JSONC (JSON with Comments) formats:
//   - opencode.json - Standard JSON configuration
//   - opencode.jsonc - JSON with comments, processed using tidwall/jsonc
//
// # Variable Interpolation
//
// Load does no variable interpolation: placeholders such as {env:VAR_NAME} or
// {file:path} in a configuration file are kept as literal text.
//
// # Configuration Merging
//
// Each loaded file is merged into the result field by field:
//   - model and small_model replace the earlier value when non-empty
//   - provider, agent, command and mcp are merged by key; an entry for a key
//     replaces the earlier entry for that key as a whole
//   - lsp, watcher and experimental replace the earlier value when set
//
// Other fields ($schema, username, instructions, tools, permission, formatter,
// and the rest) are not carried from the files into the result.
//
// # Path Management
//
// The package provides XDG Base Directory Specification compliant path management
// through the Paths type:
//   - Data: ~/.local/share/opencode (XDG_DATA_HOME)
//   - Config: ~/.config/opencode (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opencode (XDG_CACHE_HOME)
//   - State: ~/.local/state/opencode (XDG_STATE_HOME)
//
// On Windows, these paths are adapted to use APPDATA as appropriate.
//
// # Environment Variable Overrides
//
// These environment variables override the loaded configuration:
//   - OPENCODE_MODEL - Override the default model
//   - OPENCODE_SMALL_MODEL - Override the small model
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, AWS_ACCESS_KEY_ID -
//     API key for the anthropic, openai, google and bedrock providers, used
//     only when the provider has no apiKey set
//
// # TypeScript Compatibility
//
// The configuration types accept TypeScript-style provider configuration with
// Options objects.
//
// # Usage Example
//
//	// Load configuration from the current directory
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Get standard paths
//	paths := config.GetPaths()
//	err = paths.EnsurePaths() // Create directories if they don't exist
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Save configuration
//	err = config.Save(cfg, config.GlobalConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
