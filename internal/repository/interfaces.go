package repository

import (
	"context"

	"github.com/vedran77/vetchat/internal/domain"
)

// Lookups that find nothing return (nil, nil) or ("", nil); errors are reserved
// for store failures.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindProfiles may return fewer profiles than ids.
	FindProfiles(ctx context.Context, ids []string) ([]domain.Profile, error)
	// FindClinic returns the clinic of an account or linked client record.
	FindClinic(ctx context.Context, participantID string) (string, error)
}

type ClientRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Client, error)
}

type StaffRepository interface {
	// FindClinicStaff returns the earliest staff id of the clinic that is not
	// in exclude. An empty role matches any staff role.
	FindClinicStaff(ctx context.Context, clinicID, role string, exclude []string) (string, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	// ListByParticipants returns messages sent or received by any of ids,
	// oldest first.
	ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error)
}
