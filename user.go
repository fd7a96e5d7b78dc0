package possession

import (
	"slices"
	"strings"
)

// Role is the principal's role as reported by the backend
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAttendant Role = "attendant"
)

// Normalize maps the backend's prefixed role names ("pharmacy_owner") onto
// the canonical roles. Unknown roles are returned lower-cased.
func (r Role) Normalize() Role {
	s := strings.ToLower(strings.TrimSpace(string(r)))
	s = strings.TrimPrefix(s, "pharmacy_")
	return Role(s)
}

// IsOwner returns true for owner accounts
func (r Role) IsOwner() bool { return r.Normalize() == RoleOwner }

// IsAttendant returns true for attendant accounts
func (r Role) IsAttendant() bool { return r.Normalize() == RoleAttendant }

// UserProfile is the cached copy of the authenticated principal
type UserProfile struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Role        Role     `json:"role,omitempty"`
	TenantID    string   `json:"tenantId,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Name        string   `json:"name,omitempty"`
}

// DisplayName returns the best available human readable name
func (u *UserProfile) DisplayName() string {
	if u == nil {
		return ""
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// HasRole returns true if the user has any of the given roles.
// An empty role list admits every user.
func (u *UserProfile) HasRole(roles ...Role) bool {
	if u == nil {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	mine := u.Role.Normalize()
	for _, r := range roles {
		if r.Normalize() == mine {
			return true
		}
	}
	return false
}

// HasPermission returns true if the user holds the permission.
// Owners implicitly hold every permission.
func (u *UserProfile) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	if u.Role.IsOwner() {
		return true
	}
	return ContainsPermission(u.Permissions, perm)
}

// Clone returns a deep copy so callers cannot mutate session state
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = slices.Clone(u.Permissions)
	return &out
}
