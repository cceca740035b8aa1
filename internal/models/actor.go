package models

const RoleAdmin = "admin"

// Actor is the authenticated profile performing a request. The zero value is an
// anonymous caller.
type Actor struct {
	ProfileID string `json:"profile_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsAnonymous() bool {
	return a.ProfileID == ""
}
