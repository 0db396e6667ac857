// ABOUTME: Tests for snowflake encoding and entity helpers
// ABOUTME: Covers string/number snowflakes, creation time, and http attachment

package entity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_JSON(t *testing.T) {
	var s Snowflake
	require.NoError(t, json.Unmarshal([]byte(`"175928847299117063"`), &s))
	assert.Equal(t, Snowflake(175928847299117063), s)

	require.NoError(t, json.Unmarshal([]byte(`42`), &s))
	assert.Equal(t, Snowflake(42), s)

	data, err := json.Marshal(Snowflake(175928847299117063))
	require.NoError(t, err)
	assert.Equal(t, `"175928847299117063"`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &s))
}

func TestSnowflake_Time(t *testing.T) {
	// Documented example: 175928847299117063 was created 2016-04-30 11:18:25.796 UTC.
	got := Snowflake(175928847299117063).Time()
	want := time.Date(2016, 4, 30, 11, 18, 25, 796*int(time.Millisecond), time.UTC)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestSnowflake_Mentions(t *testing.T) {
	s := Snowflake(80351110224678912)
	assert.Equal(t, "<@80351110224678912>", s.MentionUser())
	assert.Equal(t, "<@&80351110224678912>", s.MentionRole())
	assert.Equal(t, "<#80351110224678912>", s.MentionChannel())
}

func TestUser_DisplayName(t *testing.T) {
	name := "Nelly"
	assert.Equal(t, "Nelly", User{Username: "nelly", GlobalName: &name}.DisplayName())
	assert.Equal(t, "nelly", User{Username: "nelly"}.DisplayName())
}

type stubResources struct{ asked Snowflake }

func (s *stubResources) Channel(_ context.Context, id Snowflake) (*Channel, error) {
	s.asked = id
	return &Channel{ID: id, Name: "general"}, nil
}

func TestMessage_ChannelLookup(t *testing.T) {
	m := &Message{ChannelID: 99}

	_, err := m.Channel(t.Context())
	assert.ErrorIs(t, err, ErrNoHTTPClient)

	stub := &stubResources{}
	var attachable HTTPAttachable = m
	attachable.AttachHTTPClient(stub)

	ch, err := m.Channel(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "general", ch.Name)
	assert.Equal(t, Snowflake(99), stub.asked)
}

func TestReady_Decode(t *testing.T) {
	raw := `{"v":10,"user":{"id":"1","username":"bot","discriminator":"0"},
		"guilds":[{"id":"2","unavailable":true}],"session_id":"abc",
		"resume_gateway_url":"wss://resume.example","shard":[0,1],"application":{"id":"3"}}`
	var r Ready
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, 10, r.Version)
	assert.Equal(t, "abc", r.SessionID)
	assert.Equal(t, "wss://resume.example", r.ResumeGatewayURL)
	require.NotNil(t, r.Shard)
	assert.Equal(t, [2]uint64{0, 1}, *r.Shard)
	require.Len(t, r.Guilds, 1)
	assert.True(t, r.Guilds[0].Unavailable)
}
