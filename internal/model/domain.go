package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleStaff UserRole = "staff"
)

// ParseRole maps a stored role string to a known role; anything unknown is
// treated as staff.
func ParseRole(s string) UserRole {
	if UserRole(s) == UserRoleAdmin {
		return UserRoleAdmin
	}
	return UserRoleStaff
}

type Principal struct {
	UserID   uuid.UUID
	Username string
	Role     UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}
