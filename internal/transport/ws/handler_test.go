package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/vetchat/internal/auth"
	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/realtime"
	"github.com/vedran77/vetchat/internal/repository/memory"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/internal/session"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func strPtr(s string) *string { return &s }

type wsServer struct {
	url    string
	store  *memory.Store
	hub    *realtime.Hub
	tokens *auth.Tokens
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.AddUser(domain.User{ID: "u1", Email: "owner@example.com", Role: domain.RoleClient, ClinicID: strPtr("clinic1"), CreatedAt: time.Now()})
	store.AddUser(domain.User{ID: "doc7", FirstName: "Marko", LastName: "Babic", Role: domain.RoleDoctor, ClinicID: strPtr("clinic1"), CreatedAt: time.Now()})

	hub := realtime.NewHub(32, logger)
	go hub.Run(ctx)

	convo := service.NewConversationService(store.Messages(), store.Users(), store.Staff(), logger)
	convo.SetNotifier(hub)
	tokens := auth.NewTokens("test-secret", time.Hour)

	srv := httptest.NewServer(ServeWS(Deps{
		Identity:      service.NewIdentityResolver(store.Clients(), logger),
		Conversations: convo,
		Feed:          hub,
		Tokens:        tokens,
		Logger:        logger,
	}))
	t.Cleanup(srv.Close)

	return &wsServer{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		store:  store,
		hub:    hub,
		tokens: tokens,
	}
}

func (s *wsServer) dial(t *testing.T, subject domain.Subject) *websocket.Conn {
	t.Helper()
	token, err := s.tokens.Issue(subject)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.url+"/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var evt Event
		require.NoError(t, wsjson.Read(ctx, conn, &evt), "waiting for %s", want)
		if evt.Type == want {
			return evt
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Event{Type: eventType, Payload: data}))
}

func TestServeWSRejectsBadToken(t *testing.T) {
	s := newWSServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, s.url+"/ws?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, s.url+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionSnapshotOnConnect(t *testing.T) {
	s := newWSServer(t)
	s.store.AddMessage(domain.Message{ID: "m1", SenderID: "doc7", ReceiverID: "u1", Content: "Rex looks fine", CreatedAt: time.Now()})

	conn := s.dial(t, domain.Subject{ID: "u1", Email: "owner@example.com"})

	evt := readUntil(t, conn, EventTypeSnapshot)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(evt.Payload, &snap))
	assert.Equal(t, session.StateReady, snap.State)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "Marko", snap.Profiles["doc7"].FirstName)
}

func TestSendReconcilesWithEcho(t *testing.T) {
	s := newWSServer(t)
	conn := s.dial(t, domain.Subject{ID: "u1", Email: "owner@example.com"})
	readUntil(t, conn, EventTypeSnapshot)

	write(t, conn, EventTypeMessageSend, MessageSendPayload{Content: "Is Rex ready?", Nonce: "n1"})

	evt := readUntil(t, conn, EventTypeMessageNew)
	var provisional MessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &provisional))
	assert.True(t, provisional.Provisional)
	assert.Equal(t, "doc7", provisional.ReceiverID)

	evt = readUntil(t, conn, EventTypeMessageUpd)
	var confirmed MessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &confirmed))
	assert.Equal(t, provisional.ID, confirmed.ReplacedID)
	assert.False(t, confirmed.Provisional)
	assert.Equal(t, "Is Rex ready?", confirmed.Content)

	stored := s.store.AllMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, confirmed.ID)
}

func TestInboundMessageIsForwarded(t *testing.T) {
	s := newWSServer(t)
	conn := s.dial(t, domain.Subject{ID: "u1", Email: "owner@example.com"})
	readUntil(t, conn, EventTypeSnapshot)

	require.NoError(t, s.hub.Publish(context.Background(), realtime.TableMessages,
		domain.Message{ID: "m9", SenderID: "doc7", ReceiverID: "u1", Content: "Come by at 5", CreatedAt: time.Now()}))

	evt := readUntil(t, conn, EventTypeMessageNew)
	var msg MessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &msg))
	assert.Equal(t, "m9", msg.ID)
}

func TestClientEventErrors(t *testing.T) {
	s := newWSServer(t)
	conn := s.dial(t, domain.Subject{ID: "u1", Email: "owner@example.com"})
	readUntil(t, conn, EventTypeSnapshot)

	write(t, conn, EventTypePing, nil)
	readUntil(t, conn, EventTypePong)

	write(t, conn, EventTypeMessageSend, MessageSendPayload{Content: "   ", Nonce: "n2"})
	evt := readUntil(t, conn, EventTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, session.NoticeValidation, p.Code)
	assert.Equal(t, "n2", p.Nonce)

	write(t, conn, "typing.start", nil)
	evt = readUntil(t, conn, EventTypeError)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "UNKNOWN_EVENT", p.Code)
}
