package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/metrics"
	"github.com/vedran77/vetchat/internal/realtime"
	"github.com/vedran77/vetchat/internal/repository"
)

var (
	ErrFetchFailed   = errors.New("could not load conversation")
	ErrPersistFailed = errors.New("message could not be delivered")
	ErrNoRecipient   = errors.New("no recipient available")
	ErrSelfAddressed = errors.New("cannot send a message to yourself")
	ErrEmptyContent  = errors.New("message content is required")
	ErrNoIdentity    = errors.New("no signed-in identity")
)

// Notifier publishes persisted rows to the realtime feed.
type Notifier interface {
	NotifyInsert(ctx context.Context, table string, row any)
}

// ConversationService reads and writes the single client/clinic conversation
// of a self identity.
type ConversationService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	staffRepo   repository.StaffRepository
	notifier    Notifier
	logger      *slog.Logger
}

func NewConversationService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	staffRepo repository.StaffRepository,
	logger *slog.Logger,
) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		staffRepo:   staffRepo,
		logger:      logger,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ConversationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Fetch returns the conversation oldest first. A store failure wraps
// ErrFetchFailed so callers can tell it apart from an empty conversation.
func (s *ConversationService) Fetch(ctx context.Context, self domain.SelfIdentity) ([]domain.Message, error) {
	if self.IsZero() {
		return nil, ErrNoIdentity
	}

	messages, err := s.messageRepo.ListByParticipants(ctx, self.IDs())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	// The store filters, but a row outside the identity must never be shown.
	out := make([]domain.Message, 0, len(messages))
	for i := range messages {
		if self.IsRelevant(&messages[i]) {
			out = append(out, messages[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UnknownSenders lists, in first-seen order, the distinct senders outside self
// for which known reports false.
func UnknownSenders(self domain.SelfIdentity, messages []domain.Message, known func(id string) bool) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range messages {
		if self.Contains(m.SenderID) {
			continue
		}
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		if known != nil && known(m.SenderID) {
			continue
		}
		ids = append(ids, m.SenderID)
	}
	return ids
}

// Profiles loads display profiles for ids. Every id gets an entry; ids with no
// record, or all of them when the lookup fails, get a fallback profile.
func (s *ConversationService) Profiles(ctx context.Context, ids []string) map[string]domain.Profile {
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out
	}

	profiles, err := s.userRepo.FindProfiles(ctx, ids)
	if err != nil {
		s.logger.Warn("profile lookup failed", "ids", ids, "error", err)
	}
	for _, p := range profiles {
		out[p.ID] = p
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = domain.FallbackProfile(id)
			metrics.ProfileFallbacks.Inc()
		}
	}
	return out
}

// ReplyTarget returns the sender of the latest message in history that was not
// sent by self.
func ReplyTarget(self domain.SelfIdentity, history []domain.Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.IsProvisional() || self.Contains(m.SenderID) {
			continue
		}
		return m.SenderID, true
	}
	return "", false
}

// ResolveTarget picks the receiver of a new message. With history it replies to
// whoever spoke last; otherwise it routes to the clinic, preferring a doctor.
func (s *ConversationService) ResolveTarget(ctx context.Context, self domain.SelfIdentity, history []domain.Message, clinicID string) (string, error) {
	if self.IsZero() {
		return "", ErrNoIdentity
	}

	if target, ok := ReplyTarget(self, history); ok {
		return target, nil
	}

	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		clinicID = s.lookupClinic(ctx, self)
	}
	if clinicID == "" {
		return "", ErrNoRecipient
	}

	for _, role := range []string{domain.RoleDoctor, ""} {
		target, err := s.staffRepo.FindClinicStaff(ctx, clinicID, role, self.IDs())
		if err != nil {
			s.logger.Warn("clinic staff lookup failed", "clinic", clinicID, "role", role, "error", err)
			continue
		}
		if target != "" {
			return target, nil
		}
	}

	return "", ErrNoRecipient
}

func (s *ConversationService) lookupClinic(ctx context.Context, self domain.SelfIdentity) string {
	for _, id := range self.IDs() {
		clinicID, err := s.userRepo.FindClinic(ctx, id)
		if err != nil {
			s.logger.Warn("clinic lookup failed", "participant", id, "error", err)
			continue
		}
		if clinicID != "" {
			return clinicID
		}
	}
	return ""
}

// Send persists a message from the primary self id to receiverID.
func (s *ConversationService) Send(ctx context.Context, self domain.SelfIdentity, receiverID, content string) (*domain.Message, error) {
	if self.IsZero() {
		return nil, ErrNoIdentity
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if receiverID == "" {
		return nil, ErrNoRecipient
	}
	if self.Contains(receiverID) {
		return nil, ErrSelfAddressed
	}

	msg := &domain.Message{
		ID:         uuid.NewString(),
		SenderID:   self.Primary(),
		ReceiverID: receiverID,
		Content:    content,
		Read:       false,
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	metrics.MessagesSent.WithLabelValues("sent").Inc()

	if s.notifier != nil {
		s.notifier.NotifyInsert(ctx, realtime.TableMessages, msg)
	}

	return msg, nil
}

// SendToClinic resolves the receiver from the stored conversation and sends.
func (s *ConversationService) SendToClinic(ctx context.Context, self domain.SelfIdentity, clinicID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	history, err := s.Fetch(ctx, self)
	if err != nil {
		return nil, err
	}

	target, err := s.ResolveTarget(ctx, self, history, clinicID)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("no_recipient").Inc()
		return nil, err
	}

	return s.Send(ctx, self, target, content)
}
