package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is the data payload of a chat_from_merchant envelope.
type ChatMessage struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Body    string    `json:"body"`
	Created Timestamp `json:"created"`
}

func DecodeChatMessage(data json.RawMessage) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	return msg, nil
}

func (m ChatMessage) Valid() bool {
	_, _, err := m.Owners()
	return err == nil && m.Body != ""
}

// Owners returns the sender and recipient in canonical form, the form
// connections are registered under. Any spelling uuid.Parse accepts is valid.
func (m ChatMessage) Owners() (from, to string, err error) {
	if from, err = ParseOwner(m.From, true); err != nil {
		return "", "", fmt.Errorf("from: %w", err)
	}
	if to, err = ParseOwner(m.To, true); err != nil {
		return "", "", fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

// Timestamp tolerates missing or unparseable values; they decode to the zero
// time because the timestamp plays no part in routing.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	t.Time = time.Time{}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('"')
	buf.WriteString(t.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('"')
	return buf.Bytes(), nil
}
