package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vedran77/vetchat/internal/metrics"
)

const defaultBufSize = 256

// Hub is an in-process Feed. Publishers and subscribers meet on the Run loop.
type Hub struct {
	subs map[*Subscription]struct{}

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan Insert
	done       chan struct{}

	bufSize int
	logger  *slog.Logger
}

func NewHub(bufSize int, logger *slog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan Insert, bufSize),
		done:       make(chan struct{}),
		bufSize:    bufSize,
		logger:     logger,
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine. All
// subscriptions are closed when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for sub := range h.subs {
			h.drop(sub)
		}
		close(h.done)
	}()

	for {
		select {
		case sub := <-h.register:
			h.subs[sub] = struct{}{}
			metrics.FeedSubscribers.Inc()
			h.logger.Debug("feed: subscribed", "table", sub.table, "total", len(h.subs))

		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				h.drop(sub)
				h.logger.Debug("feed: unsubscribed", "table", sub.table, "total", len(h.subs))
			}

		case ins := <-h.broadcast:
			for sub := range h.subs {
				if sub.table != ins.Table {
					continue
				}
				select {
				case sub.events <- ins:
				default:
					// Subscriber buffer full - drop it
					h.logger.Warn("feed: dropping slow subscriber", "table", sub.table)
					h.drop(sub)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, table string) (*Subscription, error) {
	sub := &Subscription{
		table:  table,
		events: make(chan Insert, h.bufSize),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrFeedClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe is safe to call more than once and after the hub stopped.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish marshals row and delivers it to every subscriber of table.
func (h *Hub) Publish(ctx context.Context, table string, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}
	return h.publish(ctx, Insert{Table: table, Row: data})
}

// NotifyInsert implements service.Notifier.
func (h *Hub) NotifyInsert(ctx context.Context, table string, row any) {
	if err := h.Publish(ctx, table, row); err != nil {
		h.logger.Warn("feed: publish failed", "table", table, "error", err)
	}
}

func (h *Hub) publish(ctx context.Context, ins Insert) error {
	select {
	case <-h.done:
		return ErrFeedClosed
	default:
	}
	select {
	case h.broadcast <- ins:
		return nil
	case <-h.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) drop(sub *Subscription) {
	delete(h.subs, sub)
	close(sub.events)
	metrics.FeedSubscribers.Dec()
}
