package domain

import "time"

const (
	RoleClient = "client"
	RoleDoctor = "doctor"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// StaffRoles are the roles that may answer a client conversation.
var StaffRoles = []string{RoleDoctor, RoleStaff, RoleAdmin}

// User is an account known to the identity provider.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	ClinicID     *string   `json:"clinic_id,omitempty"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Client is a clinic's own record of a pet owner. It predates the account and
// is matched to it by email.
type Client struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	ClinicID  *string   `json:"clinic_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject is the authenticated principal.
type Subject struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
