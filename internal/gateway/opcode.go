// ABOUTME: Gateway op codes carried in the "op" field of every envelope
// ABOUTME: Names each code and reports which direction it travels

package gateway

import "strconv"

// OpCode identifies the kind of an envelope.
type OpCode int

const (
	OpDispatch            OpCode = 0
	OpHeartbeat           OpCode = 1
	OpIdentify            OpCode = 2
	OpPresenceUpdate      OpCode = 3
	OpVoiceStateUpdate    OpCode = 4
	OpResume              OpCode = 6
	OpReconnect           OpCode = 7
	OpRequestGuildMembers OpCode = 8
	OpInvalidSession      OpCode = 9
	OpHello               OpCode = 10
	OpHeartbeatAck        OpCode = 11
)

var opNames = map[OpCode]string{
	OpDispatch:            "dispatch",
	OpHeartbeat:           "heartbeat",
	OpIdentify:            "identify",
	OpPresenceUpdate:      "presence_update",
	OpVoiceStateUpdate:    "voice_state_update",
	OpResume:              "resume",
	OpReconnect:           "reconnect",
	OpRequestGuildMembers: "request_guild_members",
	OpInvalidSession:      "invalid_session",
	OpHello:               "hello",
	OpHeartbeatAck:        "heartbeat_ack",
}

// String returns the op code's name, or its number when unknown.
func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "op_" + strconv.Itoa(int(o))
}
