package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UpstreamEvent is one message body taken off the external queue.
type UpstreamEvent struct {
	Type      string          `json:"type"`
	Recipient string          `json:"recipient"`
	Data      json.RawMessage `json:"data"`
}

func DecodeUpstreamEvent(raw []byte) (UpstreamEvent, error) {
	var evt UpstreamEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return UpstreamEvent{}, fmt.Errorf("decode upstream event: %w", err)
	}
	return evt, nil
}

func (e UpstreamEvent) Valid() bool {
	return strings.TrimSpace(e.Type) != "" && HasValue(e.Data)
}

func (e UpstreamEvent) Is(msgType string) bool {
	return strings.EqualFold(strings.TrimSpace(e.Type), msgType)
}

func (e UpstreamEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
