package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	s, err := NewDocumentStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestDocumentStore_WriteAndRead(t *testing.T) {
	s := newTestStore(t)

	doc := map[string]any{"name": "Wylding Woods", "metadata": map[string]any{"_version": float64(1)}}
	require.NoError(t, s.Write("wylding-woods/state/world.json", doc))

	got, err := s.Read("wylding-woods/state/world.json")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestDocumentStore_WriteCreatesParentDirectories(t *testing.T) {
	// First write of a player view: neither players/<user>/<experience>/
	// nor the lock file's directory exists yet.
	s := newTestStore(t)

	rel := ViewPath("alice", "wylding-woods")
	require.NoError(t, s.Write(rel, map[string]any{"snapshot_version": float64(1)}))

	got, err := s.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["snapshot_version"])
}

func TestDocumentStore_ReadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read("nope/state/world.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentStore_Overwrite(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("e/state/world.json", map[string]any{"v": "old"}))
	require.NoError(t, s.Write("e/state/world.json", map[string]any{"v": "new"}))

	got, err := s.Read("e/state/world.json")
	require.NoError(t, err)
	assert.Equal(t, "new", got["v"])
}

func TestDocumentStore_DeleteMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("e/state/world.json"))
}

func TestDocumentStore_DeleteTree(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write(ViewPath("alice", "e"), map[string]any{"snapshot_version": float64(1)}))
	require.NoError(t, s.Write(ViewPath("bob", "e"), map[string]any{"snapshot_version": float64(1)}))

	require.NoError(t, s.DeleteTree(PlayerDir("alice", "e")))
	assert.False(t, s.Exists(ViewPath("alice", "e")))
	assert.True(t, s.Exists(ViewPath("bob", "e")))
}

func TestDocumentStore_ListDirs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write(ViewPath("bob", "e"), map[string]any{}))
	require.NoError(t, s.Write(ViewPath("alice", "e"), map[string]any{}))

	dirs, err := s.ListDirs(PlayersRoot())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, dirs)
}

func TestDocumentStore_BackupRotation(t *testing.T) {
	s := newTestStore(t)
	rel := "e/state/world.json"
	require.NoError(t, s.Write(rel, map[string]any{"v": float64(1)}))

	// The template file must survive pruning even though it shares the stem.
	require.NoError(t, s.Write("e/state/world.template.json", map[string]any{"v": float64(0)}))

	var names []string
	for i := 0; i < 7; i++ {
		name, err := s.Backup(rel, 5)
		require.NoError(t, err)
		names = append(names, name)
	}

	files, err := s.List("e/state")
	require.NoError(t, err)

	backups := 0
	for _, f := range files {
		if f != "world.json" && f != "world.template.json" {
			backups++
		}
	}
	assert.LessOrEqual(t, backups, 5)
	assert.True(t, s.Exists("e/state/world.template.json"))
	assert.NotEmpty(t, names[len(names)-1])
}

func TestDocumentStore_BackupMissingDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Backup("e/state/world.json", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentStore_ConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	rel := "e/state/world.json"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Write(rel, map[string]any{"n": float64(n)})
		}(i)
	}
	wg.Wait()

	// Whatever write won, the document must parse as a whole.
	got, err := s.Read(rel)
	require.NoError(t, err)
	assert.Contains(t, got, "n")
}
