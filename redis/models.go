package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
)

// A presence represents a tracked presence state stored in Redis.
type presence struct {
	UserID   string    `json:"user_id"`
	Typing   bool      `json:"typing"`
	OnlineAt time.Time `json:"online_at"`
}

func (p presence) APIState() api.PresenceState {
	return api.PresenceState{
		UserID:   p.UserID,
		Typing:   p.Typing,
		OnlineAt: p.OnlineAt,
	}
}

func encodeState(st api.PresenceState) (string, error) {
	data, err := json.Marshal(presence{UserID: st.UserID, Typing: st.Typing, OnlineAt: st.OnlineAt})
	if err != nil {
		return "", fmt.Errorf("encode presence: %w", err)
	}
	return string(data), nil
}

func decodeState(s string) (api.PresenceState, error) {
	var p presence
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return api.PresenceState{}, fmt.Errorf("decode presence: %w", err)
	}
	return p.APIState(), nil
}

func encodeEvent(ev api.ChangeEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(data), nil
}

// decodeEvent decodes a change event. An update whose payload has no
// reactions field keeps a nil Message.Reactions.
func decodeEvent(s string) (api.ChangeEvent, error) {
	var ev api.ChangeEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return api.ChangeEvent{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case api.EventInsert, api.EventUpdate, api.EventDelete:
	default:
		return api.ChangeEvent{}, fmt.Errorf("decode event: unknown type %q", ev.Type)
	}
	if ev.Message.ID == "" {
		return api.ChangeEvent{}, fmt.Errorf("decode event: missing message id")
	}
	return ev, nil
}
