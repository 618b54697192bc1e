package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/ratelimit"
	"github.com/vedran77/vetchat/internal/realtime"
	"github.com/vedran77/vetchat/internal/session"
	"nhooyr.io/websocket"
)

type TokenVerifier interface {
	Verify(token string) (domain.Subject, error)
}

// Deps are shared by every connection.
type Deps struct {
	Identity      session.IdentityResolver
	Conversations session.Conversations
	Feed          realtime.Feed
	Tokens        TokenVerifier
	SendLimits    *ratelimit.Pool
	Logger        *slog.Logger
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
// Each connection signs its subject into a fresh session; closing the
// connection signs it out.
func ServeWS(deps Deps) http.HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		subject, err := deps.Tokens.Verify(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			logger.Warn("ws: accept error", "error", err)
			return
		}
		conn.SetReadLimit(maxMessageSize)

		// The connection outlives the request context.
		ctx, cancel := context.WithCancel(context.Background())

		client := NewClient(conn, subject, logger)
		client.limits = deps.SendLimits
		client.ctrl = session.New(deps.Identity, deps.Conversations, deps.Feed, session.Options{
			Logger:   logger.With("subject", subject.ID),
			OnUpdate: client.Push,
		})
		go client.ctrl.Run(ctx)

		if err := client.ctrl.SignIn(ctx, subject); err != nil {
			logger.Warn("ws: sign-in failed", "subject", subject.ID, "error", err)
			cancel()
			conn.Close(websocket.StatusInternalError, "sign-in failed")
			return
		}
		logger.Info("ws: client connected", "subject", subject.ID)

		go client.WritePump(ctx)
		go func() {
			defer cancel()
			client.ReadPump(ctx)
		}()
	}
}
