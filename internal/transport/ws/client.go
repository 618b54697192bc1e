package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/ratelimit"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/internal/session"
	"github.com/vedran77/vetchat/pkg/validator"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 32 * 1024
	sendBufSize    = 256
)

// Client is one WebSocket connection and the live session it hosts.
type Client struct {
	conn    *websocket.Conn
	subject domain.Subject
	ctrl    *session.Controller
	limits  *ratelimit.Pool
	logger  *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, subject domain.Subject, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		subject: subject,
		logger:  logger.With("subject", subject.ID),
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}
}

// Push queues a session update for the client. It never blocks: a client
// that cannot keep up is disconnected.
func (c *Client) Push(u session.Update) {
	evt, err := eventFromUpdate(u)
	if err != nil {
		c.logger.Warn("ws: marshal update failed", "kind", u.Kind, "error", err)
		return
	}
	if evt == nil {
		return
	}
	c.enqueue(evt)
}

// ReadPump reads client events until the connection closes or ctx ends.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Info("ws: client disconnected")
			} else {
				c.logger.Warn("ws: read error", "error", err)
			}
			return
		}

		c.handleEvent(ctx, &event)
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn("ws: write error", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Warn("ws: ping error", "error", err)
				c.close()
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent routes an incoming client event. Commands that wait on the
// store run in their own goroutine so reading continues.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeMessageSend:
		var p MessageSendPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid message.send payload", "")
			return
		}
		if errs := validator.ValidateMessage(p.Content); errs.HasErrors() {
			c.sendError(session.NoticeValidation, errs["content"], p.Nonce)
			return
		}
		if !c.limits.Allow(c.subject.ID) {
			c.sendError("RATE_LIMITED", "Too many messages, slow down", p.Nonce)
			return
		}
		go c.sendMessage(ctx, p)

	case EventTypeSessionReload:
		go func() {
			if err := c.ctrl.Reload(ctx); err != nil {
				c.sendError(session.NoticeNotReady, err.Error(), "")
			}
		}()

	case EventTypePing:
		evt, _ := NewEvent(EventTypePong, nil)
		c.enqueue(evt)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type, "")
	}
}

func (c *Client) sendMessage(ctx context.Context, p MessageSendPayload) {
	_, err := c.ctrl.Send(ctx, p.Content, p.ClinicID)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, session.ErrStopped), errors.Is(err, context.Canceled):
		return
	case errors.Is(err, session.ErrEmptyContent):
		c.sendError(session.NoticeValidation, "Message content is required", p.Nonce)
	case errors.Is(err, session.ErrNotReady):
		c.sendError(session.NoticeNotReady, "Conversation is not loaded yet", p.Nonce)
	case errors.Is(err, service.ErrNoRecipient):
		c.sendError(session.NoticeNoRecipient, "No one at the clinic is available to receive messages", p.Nonce)
	case errors.Is(err, service.ErrSelfAddressed):
		c.sendError("SELF_ADDRESSED", "You cannot send a message to yourself", p.Nonce)
	default:
		c.sendError(session.NoticeSendFailed, "Message could not be delivered", p.Nonce)
	}
}

func (c *Client) sendError(code, message, nonce string) {
	evt, err := NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message, Nonce: nonce})
	if err != nil {
		return
	}
	c.enqueue(evt)
}

func (c *Client) enqueue(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		// Send buffer full - drop the connection
		c.logger.Warn("ws: dropping slow client")
		c.close()
		go c.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
