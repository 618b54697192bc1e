package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"github.com/vedran77/vetchat/internal/repository"
	"github.com/vedran77/vetchat/internal/repository/memory"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/internal/transport/http/middleware"
)

type brokenMessages struct{}

func (brokenMessages) Create(ctx context.Context, msg *domain.Message) error {
	return errors.New("store unavailable")
}

func (brokenMessages) ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error) {
	return nil, errors.New("store unavailable")
}

func strPtr(s string) *string { return &s }

type testServer struct {
	store  *memory.Store
	tokens *auth.Tokens
	srv    *httptest.Server
}

func newTestServer(t *testing.T, messages repository.MessageRepository) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.AddUser(domain.User{ID: "doc7", FirstName: "Marko", LastName: "Babic", Role: domain.RoleDoctor, ClinicID: strPtr("clinic1"), CreatedAt: time.Now()})
	if messages == nil {
		messages = store.Messages()
	}

	tokens := auth.NewTokens("test-secret", time.Hour)
	identity := service.NewIdentityResolver(store.Clients(), logger)
	authHandler := NewAuthHandler(service.NewAuthService(store.Users(), tokens), identity, logger)
	messageHandler := NewMessageHandler(
		identity,
		service.NewConversationService(messages, store.Users(), store.Staff(), logger),
		logger,
	)

	requireAuth := middleware.Auth(tokens)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /api/v1/me/identity", requireAuth(http.HandlerFunc(messageHandler.Identity)))
	mux.Handle("GET /api/v1/messages", requireAuth(http.HandlerFunc(messageHandler.List)))
	mux.Handle("POST /api/v1/messages", requireAuth(http.HandlerFunc(messageHandler.Send)))

	srv := httptest.NewServer(middleware.CORS(mux))
	t.Cleanup(srv.Close)
	return &testServer{store: store, tokens: tokens, srv: srv}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (s *testServer) register(t *testing.T, email string, clinicID *string) (string, string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", service.RegisterInput{
		Email:     email,
		FirstName: "Ana",
		LastName:  "Kos",
		Password:  "Secret123",
		ClinicID:  clinicID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := body["user"].(map[string]any)
	return user["id"].(string), body["access_token"].(string)
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestRegisterLoginAndIdentity(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.AddClient(domain.Client{ID: "c9", Email: "owner@example.com", CreatedAt: time.Now()})

	userID, _ := s.register(t, "owner@example.com", strPtr("clinic1"))

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", service.LoginInput{Email: "OWNER@example.com", Password: "Secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["access_token"].(string)
	identity := body["identity"].(map[string]any)
	assert.Equal(t, userID, identity["subject"])
	assert.Equal(t, []any{userID, "c9"}, identity["self"])
	assert.Equal(t, "c9", identity["linked"])
	assert.NotContains(t, body["user"].(map[string]any), "password_hash")

	resp, body = s.do(t, http.MethodGet, "/api/v1/me/identity", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, userID, body["subject"])
	assert.Equal(t, []any{userID, "c9"}, body["self"])
	assert.Equal(t, "c9", body["linked"])
}

func TestRegisterWithoutLinkedClient(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", service.RegisterInput{
		Email: "new@example.com", FirstName: "Ana", LastName: "Kos", Password: "Secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	userID := body["user"].(map[string]any)["id"].(string)
	identity := body["identity"].(map[string]any)
	assert.Equal(t, []any{userID}, identity["self"])
	assert.NotContains(t, identity, "linked")
}

func TestLoginRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "owner@example.com", nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", service.LoginInput{Email: "owner@example.com", Password: "Wrong1234"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(body))

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/auth/login", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", service.RegisterInput{Email: "nope", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))

	s.register(t, "owner@example.com", nil)
	resp, body = s.do(t, http.MethodPost, "/api/v1/auth/register", "", service.RegisterInput{
		Email: "owner@example.com", FirstName: "Ana", Password: "Secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMAIL_TAKEN", errorCode(body))
}

func TestMessagesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/v1/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	resp, _ = s.do(t, http.MethodGet, "/api/v1/messages", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendFirstContactAndList(t *testing.T) {
	s := newTestServer(t, nil)
	userID, token := s.register(t, "owner@example.com", strPtr("clinic1"))

	resp, body := s.do(t, http.MethodPost, "/api/v1/messages", token, SendMessageInput{Content: "  Rex is limping  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, userID, body["sender_id"])
	assert.Equal(t, "doc7", body["receiver_id"])
	assert.Equal(t, "Rex is limping", body["content"])

	s.store.AddMessage(domain.Message{ID: "reply", SenderID: "doc7", ReceiverID: userID, Content: "Bring him in", CreatedAt: time.Now().Add(time.Minute)})

	resp, body = s.do(t, http.MethodGet, "/api/v1/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "reply", messages[1].(map[string]any)["id"])

	profiles := body["profiles"].(map[string]any)
	require.Contains(t, profiles, "doc7")
	assert.Equal(t, "Marko", profiles["doc7"].(map[string]any)["first_name"])
}

func TestSendErrors(t *testing.T) {
	s := newTestServer(t, nil)
	_, token := s.register(t, "owner@example.com", nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/messages", token, SendMessageInput{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/api/v1/messages", token, SendMessageInput{Content: "hello?"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "NO_RECIPIENT", errorCode(body))
	assert.Empty(t, s.store.AllMessages())
}

func TestStoreFailuresMapToBadGateway(t *testing.T) {
	s := newTestServer(t, brokenMessages{})
	_, token := s.register(t, "owner@example.com", strPtr("clinic1"))

	resp, body := s.do(t, http.MethodGet, "/api/v1/messages", token, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "FETCH_FAILED", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/api/v1/messages", token, SendMessageInput{Content: "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "FETCH_FAILED", errorCode(body))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/v1/messages", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
