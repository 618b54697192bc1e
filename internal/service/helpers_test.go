package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/repository/memory"
)

var errStoreDown = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func newConversation(store *memory.Store) *ConversationService {
	return NewConversationService(store.Messages(), store.Users(), store.Staff(), discardLogger())
}

type failingClients struct{}

func (failingClients) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	return nil, errStoreDown
}

type failingMessages struct {
	listErr   error
	createErr error
}

func (f failingMessages) Create(ctx context.Context, msg *domain.Message) error {
	return f.createErr
}

func (f failingMessages) ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error) {
	return nil, f.listErr
}

// shuffledMessages returns fixed rows in the given order, ignoring ids.
type shuffledMessages struct {
	rows []domain.Message
}

func (s shuffledMessages) Create(ctx context.Context, msg *domain.Message) error { return nil }

func (s shuffledMessages) ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error) {
	return append([]domain.Message(nil), s.rows...), nil
}

// recordingUsers wraps a user repository and records profile lookups.
type recordingUsers struct {
	*memory.UserRepo
	mu       sync.Mutex
	lookups  [][]string
	failWith error
}

func (r *recordingUsers) FindProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	r.mu.Lock()
	r.lookups = append(r.lookups, append([]string(nil), ids...))
	r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.UserRepo.FindProfiles(ctx, ids)
}

type recordingNotifier struct {
	mu   sync.Mutex
	rows []any
}

func (n *recordingNotifier) NotifyInsert(ctx context.Context, table string, row any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rows = append(n.rows, row)
}

type staticTokens struct{}

func (staticTokens) Issue(subject domain.Subject) (string, error) {
	return "token-for-" + subject.ID, nil
}
