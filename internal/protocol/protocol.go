package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// maxFrameSize bounds inbound frames; anything larger is treated as a
// protocol violation and dropped by the caller.
const maxFrameSize = 10 * 1024 * 1024

var (
	// ErrEmptyType marks an envelope without a type field.
	ErrEmptyType = errors.New("envelope type is empty")

	// ErrMalformed marks a frame that does not parse as an envelope. The
	// offending frame is dropped and logged; the connection is not torn down
	// for this alone.
	ErrMalformed = errors.New("malformed envelope")

	// ErrFrameTooLarge marks a frame exceeding the size bound.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Envelope is the wire-level wrapper around all messages. Outbound requests
// always carry ID; inbound messages without an ID are server-pushed events.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes an envelope to a wire frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrEmptyType
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// EncodeRequest marshals payload and wraps it in a request envelope carrying
// the correlation id.
func EncodeRequest(reqType, id string, payload any) ([]byte, error) {
	if reqType == "" {
		return nil, ErrEmptyType
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request payload: %w", err)
		}
		raw = data
	}
	return Encode(Envelope{Type: reqType, ID: id, Payload: raw})
}

// Decode parses a wire frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	if len(data) > maxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}
