package domain

import (
	"strings"
	"time"
)

// ProvisionalPrefix marks ids synthesized locally for optimistic display.
// Store-assigned ids are UUIDs and never carry it.
const ProvisionalPrefix = "local-"

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
	// Local-only state, never persisted
	Provisional bool `json:"provisional,omitempty"`
	Failed      bool `json:"failed,omitempty"`
}

// IsProvisional reports whether the message is an optimistic local copy.
func (m *Message) IsProvisional() bool {
	return m.Provisional || strings.HasPrefix(m.ID, ProvisionalPrefix)
}

// Matches reports whether a persisted message is the canonical copy of the
// provisional message p.
func (m *Message) Matches(p *Message) bool {
	return m.SenderID == p.SenderID &&
		m.ReceiverID == p.ReceiverID &&
		strings.TrimSpace(m.Content) == strings.TrimSpace(p.Content)
}
