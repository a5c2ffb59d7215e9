package sessionlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibe-agent/vibe/internal/agentcore"
)

func TestNewDirName_MatchesNamingConvention(t *testing.T) {
	name := NewDirName("vibe", time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC))
	assert.True(t, IsValidDirName("vibe", name), "generated name must satisfy its own validity regex: %s", name)
	assert.False(t, IsValidDirName("other", name))
}

func TestCreateDirAndRoundTripMessages(t *testing.T) {
	base := t.TempDir()

	dir, err := CreateDir(base, "vibe")
	require.NoError(t, err)
	assert.Len(t, dir.SessionID, 8)

	messages := []agentcore.Message{
		{Role: agentcore.RoleSystem, Content: "you are an agent"},
		{Role: agentcore.RoleUser, Content: "hello\nworld"},
		{Role: agentcore.RoleAssistant, Content: "hi there"},
	}
	require.NoError(t, dir.WriteMessages(messages))

	meta := Meta{
		SessionID:     dir.SessionID,
		StartTime:     "2026-07-31T12:30:00Z",
		Environment:   Environment{WorkingDirectory: "/work"},
		TotalMessages: len(messages),
	}
	require.NoError(t, dir.WriteMeta(meta))

	loaded, loadedMeta, err := LoadSession(dir.Path)
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "system rows must be dropped on load")
	assert.Equal(t, "hello\nworld", loaded[0].Content)
	assert.Equal(t, "/work", loadedMeta.Environment.WorkingDirectory)
}

func TestFindLatestSession_SkipsInvalidDirs(t *testing.T) {
	base := t.TempDir()

	older, err := CreateDir(base, "vibe")
	require.NoError(t, err)
	require.NoError(t, older.WriteMessages([]agentcore.Message{{Role: agentcore.RoleUser, Content: "a"}}))
	require.NoError(t, older.WriteMeta(Meta{SessionID: older.SessionID}))

	// A directory that matches the naming convention but has no messages.jsonl.
	require.NoError(t, os.MkdirAll(filepath.Join(base, NewDirName("vibe", time.Now())), 0755))

	latest, err := FindLatestSession(base, "vibe")
	require.NoError(t, err)
	assert.Equal(t, older.Path, latest)
}

func TestFindSessionByID_MatchesPrefix(t *testing.T) {
	base := t.TempDir()
	dir, err := CreateDir(base, "vibe")
	require.NoError(t, err)
	require.NoError(t, dir.WriteMessages([]agentcore.Message{{Role: agentcore.RoleUser, Content: "a"}}))
	require.NoError(t, dir.WriteMeta(Meta{SessionID: dir.SessionID}))

	found, err := FindSessionByID(base, "vibe", dir.SessionID[:4])
	require.NoError(t, err)
	assert.Equal(t, dir.Path, found)
}

func TestGetFirstUserMessage_Placeholders(t *testing.T) {
	base := t.TempDir()

	empty, err := CreateDir(base, "vibe")
	require.NoError(t, err)
	require.NoError(t, empty.WriteMessages(nil))
	require.NoError(t, empty.WriteMeta(Meta{SessionID: empty.SessionID}))

	msg, err := GetFirstUserMessage(empty.Path)
	require.NoError(t, err)
	assert.Equal(t, placeholderMissingSession, msg)

	whitespace, err := CreateDir(base, "vibe")
	require.NoError(t, err)
	require.NoError(t, whitespace.WriteMessages([]agentcore.Message{{Role: agentcore.RoleUser, Content: "   "}}))
	require.NoError(t, whitespace.WriteMeta(Meta{SessionID: whitespace.SessionID}))

	msg, err = GetFirstUserMessage(whitespace.Path)
	require.NoError(t, err)
	assert.Equal(t, placeholderEmptyMessage, msg)
}
