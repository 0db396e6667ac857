// ABOUTME: Closed set of typed events produced by the decoder
// ABOUTME: Dispatch-class events carry their sequence; control events carry protocol signals

package gateway

import (
	"encoding/json"
	"time"

	"github.com/2389/gatewaykit/internal/entity"
)

// Event is one decoded inbound envelope. The set of implementations is closed.
type Event interface {
	isEvent()
}

// Hello opens every connection and fixes the heartbeat period.
type Hello struct {
	HeartbeatInterval time.Duration
}

// Ready is the READY dispatch describing a freshly identified session.
type Ready struct {
	Sequence uint64
	Data     *entity.Ready
}

// MessageCreate is the MESSAGE_CREATE dispatch.
type MessageCreate struct {
	Sequence uint64
	GuildID  *entity.Snowflake
	Message  *entity.Message
}

// Dispatch is any other dispatch. Entity holds the registry's decoded value,
// or nil when no decoder is registered for Name.
type Dispatch struct {
	Name     string
	Sequence uint64
	GuildID  *entity.Snowflake
	Payload  json.RawMessage
	Entity   any
}

// HeartbeatRequest asks the client to beat immediately.
type HeartbeatRequest struct{}

// HeartbeatAck acknowledges the last heartbeat.
type HeartbeatAck struct{}

// Reconnect asks the client to reconnect and resume.
type Reconnect struct{}

// InvalidSession reports that the session was rejected. Resumable tells
// whether a resume may still succeed.
type InvalidSession struct {
	Resumable bool
}

func (Hello) isEvent()            {}
func (Ready) isEvent()            {}
func (MessageCreate) isEvent()    {}
func (Dispatch) isEvent()         {}
func (HeartbeatRequest) isEvent() {}
func (HeartbeatAck) isEvent()     {}
func (Reconnect) isEvent()        {}
func (InvalidSession) isEvent()   {}

// DispatchInfo returns the event name and sequence of a dispatch-class event.
func DispatchInfo(ev Event) (name string, seq uint64, ok bool) {
	switch e := ev.(type) {
	case Ready:
		return EventReady, e.Sequence, true
	case MessageCreate:
		return EventMessageCreate, e.Sequence, true
	case Dispatch:
		return e.Name, e.Sequence, true
	}
	return "", 0, false
}

// IsControl reports whether ev is a heartbeat-level control event.
func IsControl(ev Event) bool {
	switch ev.(type) {
	case Hello, HeartbeatRequest, HeartbeatAck:
		return true
	}
	return false
}
