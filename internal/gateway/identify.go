// ABOUTME: Identify and resume command payloads sent during the handshake
// ABOUTME: Explicit structs validated before they are encoded onto the wire

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/gatewaykit/internal/shard"
)

// Defaults applied to identify payloads when the config leaves them unset.
const (
	DefaultOS             = "linux"
	DefaultBrowser        = "gatewaykit"
	DefaultDevice         = "gatewaykit"
	DefaultLargeThreshold = 50
	MaxLargeThreshold     = 250
)

// ConnectionProperties describe the client to the server.
type ConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

func (p ConnectionProperties) withDefaults() ConnectionProperties {
	if p.OS == "" {
		p.OS = DefaultOS
	}
	if p.Browser == "" {
		p.Browser = DefaultBrowser
	}
	if p.Device == "" {
		p.Device = DefaultDevice
	}
	return p
}

// Identify is the op 2 payload that authenticates a fresh session.
type Identify struct {
	Token          string               `json:"token"`
	Properties     ConnectionProperties `json:"properties"`
	Compress       *bool                `json:"compress"`
	LargeThreshold *int                 `json:"large_threshold"`
	Shard          *shard.Assignment    `json:"shard,omitempty"`
	Presence       json.RawMessage      `json:"presence"`
	Intents        Intents              `json:"intents"`
}

// Validate checks the payload before it is sent.
func (id Identify) Validate() error {
	if id.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if id.LargeThreshold != nil {
		if lt := *id.LargeThreshold; lt < DefaultLargeThreshold || lt > MaxLargeThreshold {
			return fmt.Errorf("%w: large_threshold %d outside %d..%d",
				ErrInvalidConfig, lt, DefaultLargeThreshold, MaxLargeThreshold)
		}
	}
	if id.Shard != nil {
		if err := id.Shard.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if len(id.Presence) > 0 && !json.Valid(id.Presence) {
		return fmt.Errorf("%w: presence is not valid JSON", ErrInvalidConfig)
	}
	return nil
}

// ParseIdentify decodes an identify payload, the "d" of an op 2 frame.
func ParseIdentify(data []byte) (Identify, error) {
	var id Identify
	if err := json.Unmarshal(data, &id); err != nil {
		return Identify{}, fmt.Errorf("parsing identify: %w", err)
	}
	if string(id.Presence) == "null" {
		id.Presence = nil
	}
	return id, nil
}

// Resume is the op 6 payload that continues a previous session.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  uint64 `json:"seq"`
}

// Validate checks the payload before it is sent.
func (r Resume) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if r.SessionID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.New("resume requires a session id"))
	}
	return nil
}
