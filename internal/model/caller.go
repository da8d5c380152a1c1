package model

const (
	GuestUsername = "guest"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Caller is the identity attached to a request by the session middleware.
type Caller struct {
	Username string
	Email    string
	Role     string
}

func Guest() *Caller {
	return &Caller{Username: GuestUsername, Role: RoleUser}
}

func (c *Caller) IsGuest() bool {
	return c == nil || c.Username == "" || c.Username == GuestUsername
}

func (c *Caller) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
