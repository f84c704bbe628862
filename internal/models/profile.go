package models

import "time"

type ProfileRole string

const (
	RoleDoctor  ProfileRole = "doctor"
	RolePatient ProfileRole = "patient"
	RoleAdmin   ProfileRole = "admin"
)

// Profile is a user known to the identity provider, keyed by its user id.
type Profile struct {
	UserID    string      `json:"user_id"`
	Name      *string     `json:"name"`
	Age       *int        `json:"age"`
	Gender    *string     `json:"gender"`
	Role      ProfileRole `json:"role"`
	Email     *string     `json:"email"`
	Image     *string     `json:"image"`
	Username  *string     `json:"username"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// DisplayName returns the profile name, or fallback when unset.
func (p *Profile) DisplayName(fallback string) string {
	if p == nil || p.Name == nil || *p.Name == "" {
		return fallback
	}
	return *p.Name
}
