// ABOUTME: Tests for cursor persistence
// ABOUTME: Runs the same contract against SQLite on disk, SQLite in memory, and the map store

package resume

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]CursorStore {
	t.Helper()
	onDisk, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "cursors.db"), discardLogger())
	require.NoError(t, err)
	inMemory, err := OpenSQLite(":memory:", discardLogger())
	require.NoError(t, err)

	stores := map[string]CursorStore{
		"sqlite-file":   onDisk,
		"sqlite-memory": inMemory,
		"memory":        NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestCursorStore_LoadMissing(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(t.Context(), "0/1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCursorStore_SaveLoad(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			updated := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
			require.NoError(t, store.Save(t.Context(), &Cursor{
				ShardKey:  "2/4",
				SessionID: "abc",
				ResumeURL: "wss://resume.example.test",
				Sequence:  1234,
				UpdatedAt: updated,
			}))

			c, err := store.Load(t.Context(), "2/4")
			require.NoError(t, err)
			assert.Equal(t, "abc", c.SessionID)
			assert.Equal(t, "wss://resume.example.test", c.ResumeURL)
			assert.Equal(t, uint64(1234), c.Sequence)
			assert.True(t, updated.Equal(c.UpdatedAt))

			_, err = store.Load(t.Context(), "0/4")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCursorStore_SaveReplaces(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(t.Context(), &Cursor{ShardKey: "0/1", SessionID: "a", Sequence: 1}))
			require.NoError(t, store.Save(t.Context(), &Cursor{ShardKey: "0/1", SessionID: "b", Sequence: 9}))

			c, err := store.Load(t.Context(), "0/1")
			require.NoError(t, err)
			assert.Equal(t, "b", c.SessionID)
			assert.Equal(t, uint64(9), c.Sequence)
			assert.False(t, c.UpdatedAt.IsZero())
		})
	}
}

func TestCursorStore_Delete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(t.Context(), &Cursor{ShardKey: "0/1", SessionID: "a", Sequence: 1}))
			require.NoError(t, store.Delete(t.Context(), "0/1"))

			_, err := store.Load(t.Context(), "0/1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, store.Delete(t.Context(), "never-saved"))
		})
	}
}

func TestOpenSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")

	first, err := OpenSQLite(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, first.Save(t.Context(), &Cursor{ShardKey: "0/1", SessionID: "abc", Sequence: 77}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path, discardLogger())
	require.NoError(t, err)
	defer second.Close()

	c, err := second.Load(t.Context(), "0/1")
	require.NoError(t, err)
	assert.Equal(t, uint64(77), c.Sequence)
}
