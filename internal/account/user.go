package account

import (
	"time"

	"github.com/google/uuid"
)

// Role is stored as a string in the database and mapped through an
// explicit table in both directions. A stored value that no longer maps
// to a known role falls back to RoleMember instead of failing the read.
type Role string

const (
	RoleMember      Role = "member"
	RoleContributor Role = "contributor"
	RoleModerator   Role = "moderator"
	RoleAdmin       Role = "admin"
)

var roleFromString = map[string]Role{
	"member":      RoleMember,
	"contributor": RoleContributor,
	"moderator":   RoleModerator,
	"admin":       RoleAdmin,
}

// ParseRole maps a stored string to a Role, falling back to RoleMember
// for unknown or corrupt values.
func ParseRole(s string) Role {
	if role, ok := roleFromString[s]; ok {
		return role
	}
	return RoleMember
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	_, ok := roleFromString[string(r)]
	return ok
}

type User struct {
	ID                 uuid.UUID
	Username           string
	Email              string
	DisplayName        string
	Bio                string
	AvatarURL          string
	PasswordHash       string
	Role               Role
	IsActive           bool
	IsEmailVerified    bool
	RefreshToken       string
	RefreshTokenExpiry time.Time
	CreatedAt          time.Time
	LastLoginAt        time.Time
}
