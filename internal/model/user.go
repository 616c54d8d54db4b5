package model

// User is the authenticated account as returned by the auth endpoints.
// Role is "user" or "admin".
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// IsAdmin reports whether the account may use the management surface.
func (u User) IsAdmin() bool { return u.Role == "admin" }
