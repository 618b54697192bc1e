package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/repository"
)

// IdentityResolver maps a signed-in subject to every participant id that
// refers to the same person.
type IdentityResolver struct {
	clientRepo repository.ClientRepository
	logger     *slog.Logger
}

func NewIdentityResolver(clientRepo repository.ClientRepository, logger *slog.Logger) *IdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{clientRepo: clientRepo, logger: logger}
}

// Resolve never fails: a failed client lookup only narrows the set to the
// subject id.
func (r *IdentityResolver) Resolve(ctx context.Context, subject domain.Subject) domain.SelfIdentity {
	self := domain.NewSelfIdentity(subject.ID)

	email := strings.TrimSpace(subject.Email)
	if email == "" || self.IsZero() {
		return self
	}

	client, err := r.clientRepo.FindByEmail(ctx, email)
	if err != nil {
		r.logger.Warn("linked client lookup failed", "subject", subject.ID, "error", err)
		return self
	}
	if client == nil {
		return self
	}

	return self.WithLinked(client.ID)
}
