package gateway

import (
	"encoding/json"
	"fmt"
)

// Envelope 上下行统一的帧格式 {"event": "...", "data": ...}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("frame has no event")
	}
	return env, nil
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func EncodeFrame(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal frame %s: %w", event, err)
	}
	return b, nil
}
