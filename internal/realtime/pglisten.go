package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/vetchat/internal/domain"
)

// NotifyChannel is the postgres channel the insert trigger notifies on.
const NotifyChannel = "row_inserts"

const relistenDelay = 2 * time.Second

// MessageSource loads a persisted message by id. A missing row is (nil, nil).
type MessageSource interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
}

// notification is the trigger payload. It names the row instead of carrying
// it, since NOTIFY payloads are capped at 8000 bytes.
type notification struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// PGListener forwards postgres insert notifications into a Hub.
type PGListener struct {
	pool     *pgxpool.Pool
	messages MessageSource
	hub      *Hub
	logger   *slog.Logger
}

func NewPGListener(pool *pgxpool.Pool, messages MessageSource, hub *Hub, logger *slog.Logger) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{pool: pool, messages: messages, hub: hub, logger: logger}
}

// Run listens until ctx is cancelled, opening a new connection when it is
// lost.
func (l *PGListener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("feed: postgres listener stopped", "error", err)

		select {
		case <-time.After(relistenDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	// Taken out of the pool for good: a released connection would keep its
	// LISTEN and queue notifications for whoever used it next.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	l.logger.Info("feed: listening for inserts", "channel", NotifyChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := l.forward(ctx, n.Payload); err != nil {
			return fmt.Errorf("publish insert: %w", err)
		}
	}
}

// forward loads the row a notification names and publishes it. Only a hub
// failure is returned; bad payloads and unknown rows are logged and skipped.
func (l *PGListener) forward(ctx context.Context, payload string) error {
	n, err := decodeNotification(payload)
	if err != nil {
		l.logger.Warn("feed: bad notification payload", "error", err)
		return nil
	}
	if n.Table != TableMessages {
		l.logger.Debug("feed: ignoring insert", "table", n.Table)
		return nil
	}

	msg, err := l.messages.GetByID(ctx, n.ID)
	if err != nil {
		l.logger.Warn("feed: load inserted row failed", "table", n.Table, "id", n.ID, "error", err)
		return nil
	}
	if msg == nil {
		l.logger.Warn("feed: inserted row not found", "table", n.Table, "id", n.ID)
		return nil
	}
	return l.hub.Publish(ctx, n.Table, msg)
}

func decodeNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, err
	}
	if n.Table == "" || n.ID == "" {
		return notification{}, errors.New("missing table or id")
	}
	return n, nil
}
