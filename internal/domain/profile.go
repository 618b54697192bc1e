package domain

import "strings"

const (
	fallbackFirstName = "Clinic"
	fallbackLastName  = "Staff"
)

// Profile describes a conversation participant for display.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// FallbackProfile is used when no profile record exists for id.
func FallbackProfile(id string) Profile {
	return Profile{
		ID:        id,
		FirstName: fallbackFirstName,
		LastName:  fallbackLastName,
		Role:      RoleStaff,
		Fallback:  true,
	}
}

// DisplayName never returns the raw identifier.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return fallbackFirstName + " " + fallbackLastName
	}
	return name
}

// IsResponder reports whether the participant is a privileged responder.
func (p Profile) IsResponder() bool {
	return p.Role == RoleDoctor
}
