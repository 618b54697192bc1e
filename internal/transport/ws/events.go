package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/session"
)

// Event types - Client → Server
const (
	EventTypeMessageSend   = "message.send"
	EventTypeSessionReload = "session.reload"
	EventTypePing          = "ping"
)

// Event types - Server → Client
const (
	EventTypeSessionState = "session.state"
	EventTypeSnapshot     = "conversation.snapshot"
	EventTypeMessageNew   = "message.new"
	EventTypeMessageUpd   = "message.updated"
	EventTypeProfile      = "profile.resolved"
	EventTypeNotice       = "notice"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type MessageSendPayload struct {
	Content  string `json:"content"`
	ClinicID string `json:"clinic_id,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// --- Server → Client payloads ---

type StatePayload struct {
	State session.State `json:"state"`
}

type MessagePayload struct {
	domain.Message
	ReplacedID string `json:"replaced_id,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Nonce   string `json:"nonce,omitempty"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// eventFromUpdate maps a session update onto the wire.
func eventFromUpdate(u session.Update) (*Event, error) {
	switch u.Kind {
	case session.UpdateState:
		return NewEvent(EventTypeSessionState, StatePayload{State: u.State})
	case session.UpdateSnapshot:
		return NewEvent(EventTypeSnapshot, u.Snapshot)
	case session.UpdateMessageNew:
		return NewEvent(EventTypeMessageNew, MessagePayload{Message: *u.Message})
	case session.UpdateMessageReplaced:
		return NewEvent(EventTypeMessageUpd, MessagePayload{Message: *u.Message, ReplacedID: u.ReplacedID})
	case session.UpdateProfile:
		return NewEvent(EventTypeProfile, u.Profile)
	case session.UpdateNotice:
		return NewEvent(EventTypeNotice, u.Notice)
	default:
		return nil, nil
	}
}
