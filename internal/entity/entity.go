// ABOUTME: Gateway domain objects decoded from dispatch payloads
// ABOUTME: Users, guilds, channels, messages, and the READY session descriptor

package entity

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoHTTPClient is returned by resource lookups on objects that were decoded
// without an attached ResourceClient.
var ErrNoHTTPClient = errors.New("no http client attached")

// ResourceClient fetches remote resources referenced by decoded objects.
type ResourceClient interface {
	Channel(ctx context.Context, id Snowflake) (*Channel, error)
}

// HTTPAttachable is implemented by objects that can perform follow-up
// resource lookups once given a client.
type HTTPAttachable interface {
	AttachHTTPClient(c ResourceClient)
}

// User is a gateway user.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    *string   `json:"global_name"`
	Avatar        *string   `json:"avatar"`
	Bot           bool      `json:"bot,omitempty"`
	System        bool      `json:"system,omitempty"`
	PublicFlags   uint64    `json:"public_flags,omitempty"`
}

// DisplayName prefers the global name over the username.
func (u User) DisplayName() string {
	if u.GlobalName != nil && *u.GlobalName != "" {
		return *u.GlobalName
	}
	return u.Username
}

// UnavailableGuild is the partial guild listed in READY.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Guild is the subset of a guild carried by GUILD_CREATE.
type Guild struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	OwnerID     Snowflake `json:"owner_id"`
	MemberCount int       `json:"member_count,omitempty"`
	Large       bool      `json:"large,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
}

// Channel is a guild or private channel.
type Channel struct {
	ID       Snowflake  `json:"id"`
	Type     int        `json:"type"`
	GuildID  *Snowflake `json:"guild_id,omitempty"`
	Name     string     `json:"name,omitempty"`
	Topic    *string    `json:"topic,omitempty"`
	ParentID *Snowflake `json:"parent_id,omitempty"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          Snowflake `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
}

// Message is a channel message.
type Message struct {
	ID              Snowflake    `json:"id"`
	ChannelID       Snowflake    `json:"channel_id"`
	GuildID         *Snowflake   `json:"guild_id,omitempty"`
	Author          User         `json:"author"`
	Content         string       `json:"content"`
	Timestamp       string       `json:"timestamp"`
	EditedTimestamp *string      `json:"edited_timestamp"`
	TTS             bool         `json:"tts"`
	MentionEveryone bool         `json:"mention_everyone"`
	Mentions        []User       `json:"mentions"`
	MentionRoles    []Snowflake  `json:"mention_roles"`
	Attachments     []Attachment `json:"attachments"`
	Pinned          bool         `json:"pinned"`
	WebhookID       *Snowflake   `json:"webhook_id,omitempty"`
	Type            int          `json:"type"`
	Flags           uint64       `json:"flags,omitempty"`

	http ResourceClient
}

// AttachHTTPClient lets the message resolve its channel later.
func (m *Message) AttachHTTPClient(c ResourceClient) {
	m.http = c
}

// Channel fetches the channel the message was posted in.
func (m *Message) Channel(ctx context.Context) (*Channel, error) {
	if m.http == nil {
		return nil, ErrNoHTTPClient
	}
	return m.http.Channel(ctx, m.ChannelID)
}

// MessageDelete is the payload of MESSAGE_DELETE.
type MessageDelete struct {
	ID        Snowflake  `json:"id"`
	ChannelID Snowflake  `json:"channel_id"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
}

// Ready is the payload of READY, describing the new session.
type Ready struct {
	Version          int                `json:"v"`
	User             User               `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            *[2]uint64         `json:"shard,omitempty"`
	Application      json.RawMessage    `json:"application,omitempty"`
}
