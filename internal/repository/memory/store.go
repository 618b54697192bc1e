// Package memory is an in-process store used for local development and tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vedran77/vetchat/internal/domain"
)

var ErrDuplicateID = errors.New("duplicate id")

type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	clients  map[string]domain.Client
	messages []domain.Message
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		clients: make(map[string]domain.Client),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source for persisted messages.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Users() *UserRepo       { return &UserRepo{s} }
func (s *Store) Clients() *ClientRepo   { return &ClientRepo{s} }
func (s *Store) Staff() *StaffRepo      { return &StaffRepo{s} }
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s} }

// AddUser seeds an account.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
}

// AddClient seeds a linked client record.
func (s *Store) AddClient(c domain.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clients[c.ID] = c
}

// AddMessage seeds a message as-is, keeping its timestamp.
func (s *Store) AddMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// AllMessages returns every stored message in insertion order.
func (s *Store) AllMessages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

type UserRepo struct{ s *Store }

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return ErrDuplicateID
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) FindProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var profiles []domain.Profile
	for _, id := range ids {
		u, ok := r.s.users[id]
		if !ok {
			continue
		}
		p := domain.Profile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role}
		if u.AvatarURL != nil {
			p.AvatarURL = *u.AvatarURL
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (r *UserRepo) FindClinic(ctx context.Context, participantID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.users[participantID]; ok && u.ClinicID != nil {
		return *u.ClinicID, nil
	}
	if c, ok := r.s.clients[participantID]; ok && c.ClinicID != nil {
		return *c.ClinicID, nil
	}
	return "", nil
}

type ClientRepo struct{ s *Store }

func (r *ClientRepo) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *domain.Client
	for _, c := range r.s.clients {
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = &c
		}
	}
	return found, nil
}

type StaffRepo struct{ s *Store }

func (r *StaffRepo) FindClinicStaff(ctx context.Context, clinicID, role string, exclude []string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var candidates []domain.User
	for _, u := range r.s.users {
		if u.ClinicID == nil || *u.ClinicID != clinicID || slices.Contains(exclude, u.ID) {
			continue
		}
		if role != "" && u.Role != role {
			continue
		}
		if role == "" && !slices.Contains(domain.StaffRoles, u.Role) {
			continue
		}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0].ID, nil
}

type MessageRepo struct{ s *Store }

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == msg.ID {
			return ErrDuplicateID
		}
	}
	msg.CreatedAt = r.s.now()
	r.s.messages = append(r.s.messages, *msg)
	return nil
}

func (r *MessageRepo) ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Message
	for _, m := range r.s.messages {
		if slices.Contains(ids, m.SenderID) || slices.Contains(ids, m.ReceiverID) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
