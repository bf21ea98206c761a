package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope types understood by the gateway.
const (
	TypeChatFromMerchant = "chat_from_merchant"
	TypeChat             = "chat"
	TypeNotification     = "notification"
	TypeError            = "error"
)

var ErrEmptyMessage = errors.New("empty message")

// Envelope is the {type, data} shape used on the wire in both directions.
// Data stays opaque until a handler decodes it into the shape it expects.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, ErrEmptyMessage
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Valid reports whether the type is non-blank and data is present and not null.
func (e Envelope) Valid() bool {
	return strings.TrimSpace(e.Type) != "" && HasValue(e.Data)
}

// Is compares the envelope type case-insensitively.
func (e Envelope) Is(msgType string) bool {
	return strings.EqualFold(strings.TrimSpace(e.Type), msgType)
}

func (e Envelope) Encode() ([]byte, error) {
	if !HasValue(e.Data) {
		e.Data = json.RawMessage("null")
	}
	out, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %q: %w", e.Type, err)
	}
	return out, nil
}

func NewChat(data json.RawMessage) Envelope {
	return Envelope{Type: TypeChat, Data: data}
}

func NewNotification(data json.RawMessage) Envelope {
	return Envelope{Type: TypeNotification, Data: data}
}

func NewError(message string, data json.RawMessage) (Envelope, error) {
	if !HasValue(data) {
		data = json.RawMessage("null")
	}
	payload, err := json.Marshal(ErrorPayload{Message: message, Data: data})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode error payload: %w", err)
	}
	return Envelope{Type: TypeError, Data: payload}, nil
}

// HasValue is false for missing, blank or JSON null values.
func HasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
