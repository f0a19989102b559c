package pool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/model"
	"github.com/parlourhq/parlour/project"
	"github.com/parlourhq/parlour/store"
	"github.com/parlourhq/parlour/tool"
)

type fixture struct {
	pool  *Pool
	store *store.MemoryStore
	root  string
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	root := t.TempDir()
	validator, err := project.NewValidator(root)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	p, err := New(st, model.NewMockProvider(), tool.NewRegistry(), func(o *Options) {
		o.Capacity = capacity
		o.MaxTurns = 10
		o.DefaultModel = core.ModelConfig{Provider: "mock", Name: "mock-1"}
		o.Validator = validator
		o.Provisioner = project.NewDirProvisioner(root)
	})
	require.NoError(t, err)
	return &fixture{pool: p, store: st, root: root}
}

func (f *fixture) create(t *testing.T, name string) *core.Session {
	t.Helper()
	res, err := f.pool.Create(context.Background(), filepath.Join(f.root, name), CreateConfig{Title: name})
	require.NoError(t, err)
	return res.Session
}

func TestPool_EvictionPersistsLeastRecentlyUsed(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	s1 := f.create(t, "a")
	f.create(t, "b")

	// Mutate s1 in memory only; the flush must happen at eviction time.
	eng, err := f.pool.GetOrLoad(ctx, s1.StorageLocator)
	require.NoError(t, err)
	eng.Session().AppendMessage(core.NewUserMessage("unsaved"))

	// Touch the other session so s1 is the oldest again.
	s2loc := secondLocator(t, f, s1.StorageLocator)
	_, err = f.pool.GetOrLoad(ctx, s2loc)
	require.NoError(t, err)

	f.create(t, "c")

	assert.Equal(t, 2, f.pool.Len())
	assert.False(t, f.pool.Resident(s1.StorageLocator))

	persisted, err := f.store.Read(ctx, s1.StorageLocator)
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 1)
	assert.Equal(t, "unsaved", persisted.Messages[0].Content)
}

// secondLocator returns the locator of the one resident session that is not
// the given one.
func secondLocator(t *testing.T, f *fixture, not string) string {
	t.Helper()
	f.pool.mu.Lock()
	defer f.pool.mu.Unlock()
	for loc := range f.pool.resident {
		if loc != not {
			return loc
		}
	}
	t.Fatal("no second resident session")
	return ""
}

func TestPool_TransparentReloadAfterEviction(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	s1 := f.create(t, "a")
	s2 := f.create(t, "b")
	assert.False(t, f.pool.Resident(s1.StorageLocator))

	result, err := f.pool.SendMessage(ctx, s1.StorageLocator, s1.ID, "hello again")
	require.NoError(t, err)
	assert.IsType(t, core.Complete{}, result)

	assert.Equal(t, 1, f.pool.Len())
	assert.True(t, f.pool.Resident(s1.StorageLocator))
	assert.False(t, f.pool.Resident(s2.StorageLocator))
}

func TestPool_RoundTripThroughEviction(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	s1 := f.create(t, "a")
	_, err := f.pool.SendMessage(ctx, s1.StorageLocator, s1.ID, "remember this")
	require.NoError(t, err)

	before, err := f.pool.GetOrLoad(ctx, s1.StorageLocator)
	require.NoError(t, err)
	snapshot := before.Session().Clone()

	f.create(t, "b")
	require.False(t, f.pool.Resident(s1.StorageLocator))

	after, err := f.pool.GetOrLoad(ctx, s1.StorageLocator)
	require.NoError(t, err)
	reloaded := after.Session()

	assert.Equal(t, snapshot.Messages, reloaded.Messages)
	assert.Equal(t, snapshot.Status, reloaded.Status)
	assert.Equal(t, snapshot.CurrentTurn, reloaded.CurrentTurn)
	assert.Equal(t, snapshot.Metadata, reloaded.Metadata)
}

func TestPool_SessionIDMismatch(t *testing.T) {
	f := newFixture(t, 2)
	s1 := f.create(t, "a")

	_, err := f.pool.SendMessage(context.Background(), s1.StorageLocator, "wrong-id", "hi")
	assert.ErrorIs(t, err, ErrSessionIDMismatch)
}

func TestPool_InvalidTargetDirectory(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.pool.Create(context.Background(), t.TempDir(), CreateConfig{})
	assert.ErrorIs(t, err, ErrInvalidTargetDirectory)
}

func TestPool_CreateDefaultsAndInitialPrompt(t *testing.T) {
	f := newFixture(t, 2)
	provider := model.NewMockProvider().Enqueue(model.Turn{Text: "welcome", FinishReason: "stop"})
	f.pool.provider = provider

	res, err := f.pool.Create(context.Background(), filepath.Join(f.root, "a"), CreateConfig{
		Title:         "greeter",
		InitialPrompt: "say hi",
	})
	require.NoError(t, err)

	complete, ok := res.Turn.(core.Complete)
	require.True(t, ok, "initial prompt must drive one turn, got %T", res.Turn)
	assert.Equal(t, "welcome", complete.Content)
	assert.Equal(t, core.ModelConfig{Provider: "mock", Name: "mock-1"}, res.Session.Metadata.Model)
	assert.Equal(t, 1, res.Session.CurrentTurn)
	require.Len(t, res.Session.Messages, 2)
	assert.Equal(t, core.RoleUser, res.Session.Messages[0].Role)
}

func TestPool_CreateProvisionsTaskDirectory(t *testing.T) {
	f := newFixture(t, 2)

	res, err := f.pool.Create(context.Background(), filepath.Join(f.root, "ignored"), CreateConfig{
		TaskName: "task-7",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "task-7"), filepath.Dir(res.Session.StorageLocator))
}

func TestPool_DeleteRemovesStorageAndResidency(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	s1 := f.create(t, "a")

	require.NoError(t, f.pool.Delete(ctx, s1.StorageLocator, s1.ID))
	assert.False(t, f.pool.Resident(s1.StorageLocator))
	_, err := f.store.Read(ctx, s1.StorageLocator)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestPool_UpdatePersistsMetadata(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	s1 := f.create(t, "a")

	updated, err := f.pool.Update(ctx, s1.StorageLocator, s1.ID, func(meta *core.SessionMetadata) {
		meta.Title = "renamed"
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Metadata.Title)

	persisted, err := f.store.Read(ctx, s1.StorageLocator)
	require.NoError(t, err)
	assert.Equal(t, "renamed", persisted.Metadata.Title)
}

func TestPool_AbortWithoutTurnIsHarmless(t *testing.T) {
	f := newFixture(t, 2)
	s1 := f.create(t, "a")

	require.NoError(t, f.pool.Abort(context.Background(), s1.StorageLocator, s1.ID))
	assert.Equal(t, core.StatusIdle, s1.Status)
}

func TestPool_NeverExceedsCapacity(t *testing.T) {
	f := newFixture(t, 3)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		f.create(t, name)
		assert.LessOrEqual(t, f.pool.Len(), 3)
	}
}
