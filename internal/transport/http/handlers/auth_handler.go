package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/pkg/validator"
)

// SelfResolver expands a subject into its self identity.
type SelfResolver interface {
	Resolve(ctx context.Context, subject domain.Subject) domain.SelfIdentity
}

type AuthHandler struct {
	authService *service.AuthService
	identity    SelfResolver
	logger      *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, identity SelfResolver, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{authService: authService, identity: identity, logger: logger}
}

// SessionResponse is returned by register and login. Identity lets the portal
// render "me" for messages stored under a linked client record before it
// opens the live session.
type SessionResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
	Identity    identityBody `json:"identity"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if errs := validator.ValidateRegister(input.Email, input.FirstName, input.LastName, input.Password); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Register(r.Context(), input)
	switch {
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered")
	case err != nil:
		h.logger.Error("register failed", "email", input.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	default:
		h.logger.Info("client registered", "user", resp.User.ID)
		writeJSON(w, http.StatusCreated, h.session(r.Context(), resp))
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if errs := validator.ValidateLogin(input.Email, input.Password); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Login(r.Context(), input)
	switch {
	case errors.Is(err, service.ErrInvalidCreds):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case err != nil:
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	default:
		writeJSON(w, http.StatusOK, h.session(r.Context(), resp))
	}
}

func (h *AuthHandler) session(ctx context.Context, resp *service.AuthResponse) SessionResponse {
	subject := domain.Subject{ID: resp.User.ID, Email: resp.User.Email}
	return SessionResponse{
		User:        resp.User,
		AccessToken: resp.AccessToken,
		Identity:    newIdentityBody(subject.ID, h.identity.Resolve(ctx, subject)),
	}
}
