package model

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleDispatcher UserRole = "DISPATCHER"
	UserRoleTechnician UserRole = "TECHNICIAN"
)

type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

func (p Principal) IsDispatcher() bool {
	return p.Role == UserRoleDispatcher
}

func (p Principal) IsTechnician() bool {
	return p.Role == UserRoleTechnician
}

// CanPlan reports whether the principal may create or reshape services.
func (p Principal) CanPlan() bool {
	return p.IsAdmin() || p.IsDispatcher()
}
