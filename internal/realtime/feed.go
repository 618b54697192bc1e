// Package realtime delivers row-insert events to live sessions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// TableMessages is the feed topic for new messages.
const TableMessages = "messages"

var ErrFeedClosed = errors.New("realtime feed closed")

// Insert is one inserted row. Row holds the row as JSON.
type Insert struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// Feed pushes inserts into subscriptions. A subscription's channel is closed
// when it is unsubscribed or dropped by the feed.
type Feed interface {
	Subscribe(ctx context.Context, table string) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

type Subscription struct {
	table  string
	events chan Insert
}

func (s *Subscription) Table() string {
	return s.table
}

// Events yields inserts in delivery order.
func (s *Subscription) Events() <-chan Insert {
	return s.events
}
