// ABOUTME: Wire envelope codec for the {"op","d","s","t"} frame shape
// ABOUTME: Decodes inbound text frames and encodes heartbeat, identify and resume commands

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Envelope is one decoded frame. Sequence and Name are only ever set for
// dispatch envelopes.
type Envelope struct {
	Op       OpCode
	Data     json.RawMessage
	Sequence *uint64
	Name     *string
}

type wireEnvelope struct {
	Op       *OpCode         `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *uint64         `json:"s"`
	Name     *string         `json:"t"`
}

type outboundEnvelope struct {
	Op   OpCode `json:"op"`
	Data any    `json:"d"`
}

var jsonNull = []byte("null")

// DecodeEnvelope parses one text frame. A malformed dispatch frame yields a
// *DecodeError whose Sequence is salvaged when the "s" field is still
// readable.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, salvage(frame, err)
	}
	if w.Op == nil {
		return Envelope{}, &DecodeError{Err: errors.New("missing op")}
	}

	env := Envelope{Op: *w.Op}
	if len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), jsonNull) {
		env.Data = w.Data
	}
	if env.Op == OpDispatch {
		env.Sequence = w.Sequence
		env.Name = w.Name
	}
	return env, nil
}

func salvage(frame []byte, cause error) *DecodeError {
	de := &DecodeError{Err: cause}
	op := gjson.GetBytes(frame, "op")
	if op.Type != gjson.Number {
		return de
	}
	de.Op = OpCode(op.Int())
	if de.Op != OpDispatch {
		return de
	}
	if t := gjson.GetBytes(frame, "t"); t.Type == gjson.String {
		de.Event = t.String()
	}
	if s := gjson.GetBytes(frame, "s"); s.Type == gjson.Number && s.Num >= 0 {
		seq := s.Uint()
		de.Sequence = &seq
	}
	return de
}

// EncodeHeartbeat builds an op 1 frame. A nil seq encodes as null.
func EncodeHeartbeat(seq *uint64) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Op: OpHeartbeat, Data: seq})
}

// EncodeIdentify validates id and builds an op 2 frame.
func EncodeIdentify(id Identify) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(outboundEnvelope{Op: OpIdentify, Data: id})
}

// EncodeResume validates r and builds an op 6 frame.
func EncodeResume(r Resume) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(outboundEnvelope{Op: OpResume, Data: r})
}

// Encode builds a frame for an arbitrary op code and payload.
func Encode(op OpCode, data any) ([]byte, error) {
	frame, err := json.Marshal(outboundEnvelope{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", op, err)
	}
	return frame, nil
}
