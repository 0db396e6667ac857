// ABOUTME: Tests for the intents bitmask helpers
// ABOUTME: Covers union, membership, name parsing, and rendering

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntents_UnionAndHas(t *testing.T) {
	i := IntentGuilds.Union(IntentGuildMessages, IntentMessageContent)

	assert.True(t, i.Has(IntentGuilds))
	assert.True(t, i.Has(IntentGuildMessages|IntentMessageContent))
	assert.False(t, i.Has(IntentGuildMembers))
	assert.False(t, i.Has(IntentGuilds|IntentGuildMembers))
	assert.Equal(t, 3, i.Count())
}

func TestIntents_Without(t *testing.T) {
	i := IntentsAll.Without(IntentsPrivileged)
	assert.False(t, i.Has(IntentMessageContent))
	assert.True(t, i.Has(IntentGuildMessages))
}

func TestParseIntents(t *testing.T) {
	i, err := ParseIntents([]string{"guilds", " Guild_Messages ", "message_content"})
	require.NoError(t, err)
	assert.Equal(t, IntentGuilds|IntentGuildMessages|IntentMessageContent, i)
	assert.Equal(t, []string{"guild_messages", "guilds", "message_content"}, i.Names())
}

func TestParseIntents_All(t *testing.T) {
	i, err := ParseIntents([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, IntentsAll, i)
	assert.True(t, i.Has(IntentsPrivileged))
}

func TestParseIntents_Unknown(t *testing.T) {
	_, err := ParseIntents([]string{"guilds", "mind_reading"})
	assert.ErrorContains(t, err, "mind_reading")
}

func TestIntents_String(t *testing.T) {
	assert.Equal(t, "none", Intents(0).String())
	assert.Equal(t, "direct_messages|guilds", (IntentGuilds | IntentDirectMessages).String())
}
