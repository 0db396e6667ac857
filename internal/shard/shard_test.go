// ABOUTME: Tests for shard assignment math and JSON encoding
// ABOUTME: Covers the (key >> 22) % n formula, zero counts, and pair round-trips

package shard

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_Formula(t *testing.T) {
	keys := []uint64{0, 1, 1 << 22, 41771983423143937, 175928847299117063, ^uint64(0)}
	counts := []uint64{1, 2, 3, 7, 16, 1000}

	for _, k := range keys {
		for _, n := range counts {
			a, err := For(k, n)
			require.NoError(t, err)
			assert.Equal(t, (k>>22)%n, a.Index, "key=%d n=%d", k, n)
			assert.Equal(t, n, a.Count)
		}
	}
}

func TestFor_KnownValues(t *testing.T) {
	// 41771983423143937 >> 22 = 9959216934
	a, err := For(41771983423143937, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(9959216934%16), a.Index)

	// Keys below 1<<22 always land on shard 0.
	a, err = For(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Index)
}

func TestFor_Deterministic(t *testing.T) {
	first, err := For(175928847299117063, 5)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := For(175928847299117063, 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFor_ZeroCount(t *testing.T) {
	_, err := For(12345, 0)
	assert.True(t, errors.Is(err, ErrInvalidShardCount))
}

func TestAssignment_Validate(t *testing.T) {
	assert.NoError(t, Assignment{Index: 0, Count: 1}.Validate())
	assert.ErrorIs(t, Assignment{Index: 0, Count: 0}.Validate(), ErrInvalidShardCount)
	assert.Error(t, Assignment{Index: 2, Count: 2}.Validate())
}

func TestAssignment_JSON(t *testing.T) {
	data, err := json.Marshal(Assignment{Index: 3, Count: 8})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,8]`, string(data))

	var a Assignment
	require.NoError(t, json.Unmarshal([]byte(`[1, 4]`), &a))
	assert.Equal(t, Assignment{Index: 1, Count: 4}, a)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"1/4"`), &a))
}

func TestAssignment_String(t *testing.T) {
	assert.Equal(t, "2/5", Assignment{Index: 2, Count: 5}.String())
}
