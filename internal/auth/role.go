package auth

// Role is the participant role bound to a session for its lifetime.
type Role string

const (
	RoleDeveloper Role = "Developer"
	RoleTester    Role = "Tester"
	RoleAdmin     Role = "Admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDeveloper, RoleTester, RoleAdmin:
		return true
	}
	return false
}

// CanEditCode reports whether the role may mutate the shared buffer or
// the language selector.
func (r Role) CanEditCode() bool {
	return r == RoleDeveloper || r == RoleAdmin
}

// CanAnnotate reports whether the role may author remarks.
func (r Role) CanAnnotate() bool {
	return r == RoleTester
}

// Identity is the verified name/role pair carried by a session. It is
// derived from the connection token, never from event payloads.
type Identity struct {
	Name string
	Role Role
}
