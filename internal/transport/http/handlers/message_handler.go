package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/internal/transport/http/middleware"
	"github.com/vedran77/vetchat/pkg/validator"
)

type MessageHandler struct {
	identity *service.IdentityResolver
	convo    *service.ConversationService
	logger   *slog.Logger
}

func NewMessageHandler(identity *service.IdentityResolver, convo *service.ConversationService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{identity: identity, convo: convo, logger: logger}
}

type SendMessageInput struct {
	Content  string `json:"content"`
	ClinicID string `json:"clinic_id,omitempty"`
}

type ConversationResponse struct {
	Self     []string                  `json:"self"`
	Messages []domain.Message          `json:"messages"`
	Profiles map[string]domain.Profile `json:"profiles"`
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	self := h.identity.Resolve(r.Context(), middleware.GetSubject(r.Context()))

	messages, err := h.convo.Fetch(r.Context(), self)
	if err != nil {
		h.logger.Error("list messages failed", "subject", self.Primary(), "error", err)
		writeError(w, http.StatusBadGateway, "FETCH_FAILED", "Could not load your messages")
		return
	}

	ids := append([]string{self.Primary()}, service.UnknownSenders(self, messages, nil)...)
	writeJSON(w, http.StatusOK, ConversationResponse{
		Self:     self.IDs(),
		Messages: messages,
		Profiles: h.convo.Profiles(r.Context(), ids),
	})
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var input SendMessageInput
	if !decodeJSON(w, r, &input) {
		return
	}

	if errs := validator.ValidateMessage(input.Content); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	self := h.identity.Resolve(r.Context(), middleware.GetSubject(r.Context()))

	msg, err := h.convo.SendToClinic(r.Context(), self, input.ClinicID, input.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoRecipient):
			writeError(w, http.StatusUnprocessableEntity, "NO_RECIPIENT", "No one at the clinic is available to receive messages")
		case errors.Is(err, service.ErrSelfAddressed):
			writeError(w, http.StatusBadRequest, "SELF_ADDRESSED", "You cannot send a message to yourself")
		case errors.Is(err, service.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Message content is required")
		case errors.Is(err, service.ErrFetchFailed):
			h.logger.Error("send message: history unavailable", "subject", self.Primary(), "error", err)
			writeError(w, http.StatusBadGateway, "FETCH_FAILED", "Could not load your messages")
		default:
			h.logger.Error("send message failed", "subject", self.Primary(), "error", err)
			writeError(w, http.StatusBadGateway, "SEND_FAILED", "Message could not be delivered")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) Identity(w http.ResponseWriter, r *http.Request) {
	subject := middleware.GetSubject(r.Context())
	self := h.identity.Resolve(r.Context(), subject)

	writeJSON(w, http.StatusOK, newIdentityBody(subject.ID, self))
}
