package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlourhq/parlour/core"
)

func sampleSession(locator string) *core.Session {
	s := core.NewSession("s1", locator, 10)
	s.Metadata = core.SessionMetadata{
		Mode:  "chat",
		Model: core.ModelConfig{Provider: "openai", Name: "gpt-4o-mini"},
		Title: "sample",
	}
	s.AppendMessage(core.NewUserMessage("hello"))
	s.AppendMessage(core.NewAssistantMessage("hi", nil))
	s.CurrentTurn = 2
	s.Status = core.StatusIdle
	return s
}

func testRoundTrip(t *testing.T, st Store, locator string) {
	t.Helper()
	ctx := context.Background()
	original := sampleSession(locator)

	require.NoError(t, st.Create(ctx, locator, original))
	assert.ErrorIs(t, st.Create(ctx, locator, original), ErrSessionExists)

	loaded, err := st.Read(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, original.Messages, loaded.Messages)
	assert.Equal(t, original.Status, loaded.Status)
	assert.Equal(t, original.CurrentTurn, loaded.CurrentTurn)
	assert.Equal(t, original.Metadata, loaded.Metadata)

	loaded.Status = core.StatusMaxTurnsReached
	require.NoError(t, st.Write(ctx, locator, loaded))
	again, err := st.Read(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, core.StatusMaxTurnsReached, again.Status)

	require.NoError(t, st.Delete(ctx, locator))
	_, err = st.Read(ctx, locator)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, st.Delete(ctx, locator), ErrSessionNotFound)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	testRoundTrip(t, NewMemoryStore(), "mem-1")
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	testRoundTrip(t, NewFileStore(), filepath.Join(dir, "sessions", "s1.json"))
}

func TestFileStore_LegacyModelStringMigrates(t *testing.T) {
	dir := t.TempDir()
	locator := filepath.Join(dir, "legacy.json")
	raw := []byte(`{"id":"s1","storage_locator":"loc","messages":[],"status":"idle","current_turn":0,"max_turns":10,"metadata":{"mode":"chat","model":"gpt-4","title":"old"}}`)
	require.NoError(t, os.WriteFile(locator, raw, 0o644))

	loaded, err := NewFileStore().Read(context.Background(), locator)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", loaded.Metadata.Model.Name)
	assert.Equal(t, "old", loaded.Metadata.Title)
}

func TestMemoryStore_ReadsAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Create(ctx, "loc", sampleSession("loc")))

	a, err := st.Read(ctx, "loc")
	require.NoError(t, err)
	a.AppendMessage(core.NewUserMessage("mutation"))

	b, err := st.Read(ctx, "loc")
	require.NoError(t, err)
	assert.Len(t, b.Messages, 2, "store must not observe caller mutations")
}
