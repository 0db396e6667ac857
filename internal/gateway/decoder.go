// ABOUTME: Converts envelopes into typed events using an event-name registry
// ABOUTME: Dispatch payloads decode through registered functions; unknown names stay generic

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/gatewaykit/internal/entity"
)

// Dispatch event names with registered decoders.
const (
	EventReady         = "READY"
	EventResumed       = "RESUMED"
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
	EventGuildCreate   = "GUILD_CREATE"
)

// DecodeFunc turns a dispatch payload into an entity.
type DecodeFunc func(data json.RawMessage) (any, error)

// DecodeInto returns a DecodeFunc that unmarshals into a new *T.
func DecodeInto[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Registry maps dispatch event names to decoders. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// DefaultRegistry returns a registry with the built-in entity decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EventReady, DecodeInto[entity.Ready]())
	r.Register(EventMessageCreate, DecodeInto[entity.Message]())
	r.Register(EventMessageUpdate, DecodeInto[entity.Message]())
	r.Register(EventMessageDelete, DecodeInto[entity.MessageDelete]())
	r.Register(EventGuildCreate, DecodeInto[entity.Guild]())
	return r
}

// Register installs fn for name, replacing any previous decoder.
func (r *Registry) Register(name string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = fn
}

// Lookup returns the decoder for name.
func (r *Registry) Lookup(name string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[name]
	return fn, ok
}

// Decoder converts envelopes into events.
type Decoder struct {
	registry *Registry
	http     entity.ResourceClient
}

// NewDecoder builds a decoder. A nil registry decodes every dispatch
// generically; a nil client leaves entities without resource access.
func NewDecoder(registry *Registry, http entity.ResourceClient) *Decoder {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Decoder{registry: registry, http: http}
}

// Decode maps env to its event. Non-dispatch ops outside the receive set
// yield *UnknownOpCodeError; dispatch payload failures yield *DecodeError.
func (d *Decoder) Decode(env Envelope) (Event, error) {
	switch env.Op {
	case OpDispatch:
		return d.decodeDispatch(env)
	case OpHeartbeat:
		return HeartbeatRequest{}, nil
	case OpReconnect:
		return Reconnect{}, nil
	case OpInvalidSession:
		var resumable bool
		if env.Data != nil {
			_ = json.Unmarshal(env.Data, &resumable)
		}
		return InvalidSession{Resumable: resumable}, nil
	case OpHello:
		return decodeHello(env.Data)
	case OpHeartbeatAck:
		return HeartbeatAck{}, nil
	}
	return nil, &UnknownOpCodeError{Op: env.Op, Raw: env.Data}
}

// maxHeartbeatIntervalMS is the largest interval a time.Duration can hold.
const maxHeartbeatIntervalMS = uint64(math.MaxInt64 / int64(time.Millisecond))

func decodeHello(data json.RawMessage) (Event, error) {
	var body struct {
		HeartbeatInterval uint64 `json:"heartbeat_interval"`
	}
	if data == nil {
		return nil, &DecodeError{Op: OpHello, Err: errors.New("hello without payload")}
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &DecodeError{Op: OpHello, Err: err}
	}
	if body.HeartbeatInterval == 0 {
		return nil, &DecodeError{Op: OpHello, Err: errors.New("hello without heartbeat_interval")}
	}
	if body.HeartbeatInterval > maxHeartbeatIntervalMS {
		return nil, &DecodeError{Op: OpHello, Err: fmt.Errorf("heartbeat_interval %d ms out of range", body.HeartbeatInterval)}
	}
	return Hello{HeartbeatInterval: time.Duration(body.HeartbeatInterval) * time.Millisecond}, nil
}

func (d *Decoder) decodeDispatch(env Envelope) (Event, error) {
	if env.Name == nil || env.Data == nil {
		return nil, &DecodeError{
			Op:       OpDispatch,
			Sequence: env.Sequence,
			Err:      errors.New("dispatch requires t and d"),
		}
	}
	name := *env.Name
	var seq uint64
	if env.Sequence != nil {
		seq = *env.Sequence
	}
	guildID := peekGuildID(env.Data)

	fn, ok := d.registry.Lookup(name)
	if !ok {
		return Dispatch{Name: name, Sequence: seq, GuildID: guildID, Payload: env.Data}, nil
	}
	value, err := fn(env.Data)
	if err != nil {
		return nil, &DecodeError{
			Op:       OpDispatch,
			Event:    name,
			Sequence: env.Sequence,
			Err:      fmt.Errorf("payload: %w", err),
		}
	}
	if attachable, ok := value.(entity.HTTPAttachable); ok && d.http != nil {
		attachable.AttachHTTPClient(d.http)
	}

	switch v := value.(type) {
	case *entity.Ready:
		return Ready{Sequence: seq, Data: v}, nil
	case *entity.Message:
		if name == EventMessageCreate {
			return MessageCreate{Sequence: seq, GuildID: guildID, Message: v}, nil
		}
	}
	return Dispatch{Name: name, Sequence: seq, GuildID: guildID, Payload: env.Data, Entity: value}, nil
}

func peekGuildID(data json.RawMessage) *entity.Snowflake {
	r := gjson.GetBytes(data, "guild_id")
	if r.Type != gjson.String {
		return nil
	}
	id, err := entity.ParseSnowflake(r.String())
	if err != nil {
		return nil
	}
	return &id
}
