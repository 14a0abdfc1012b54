package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RoleName is drawn from a closed set. Names are immutable identifiers.
type RoleName string

const (
	RoleAdmin RoleName = "Admin"
	RoleLegal RoleName = "Legal"
	RolePM    RoleName = "PM"
	RoleSales RoleName = "Sales"
)

var AllRoles = []RoleName{RoleAdmin, RoleLegal, RolePM, RoleSales}

// ParseRoleName matches s against the closed set, ignoring case and
// surrounding space, and returns the canonical spelling.
func ParseRoleName(s string) (RoleName, error) {
	s = strings.TrimSpace(s)
	for _, name := range AllRoles {
		if strings.EqualFold(s, string(name)) {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Permission is a "resource:action" capability string, e.g. "user:read".
type Permission string

var permissionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(:[a-z][a-z0-9_-]*)+$`)

func ParsePermission(s string) (Permission, error) {
	s = strings.TrimSpace(s)
	if !permissionPattern.MatchString(s) {
		return "", fmt.Errorf("invalid permission %q", s)
	}
	return Permission(s), nil
}

// Well-known permissions granted by the seeded roles.
const (
	PermUserRead     Permission = "user:read"
	PermUserWrite    Permission = "user:write"
	PermUserDelete   Permission = "user:delete"
	PermRoleManage   Permission = "role:manage"
	PermLegalRead    Permission = "legal:read"
	PermLegalWrite   Permission = "legal:write"
	PermProjectRead  Permission = "project:read"
	PermProjectWrite Permission = "project:write"
	PermSalesRead    Permission = "sales:read"
	PermSalesWrite   Permission = "sales:write"
)

type Role struct {
	ID          string
	Name        RoleName
	Description string
	// Permissions keeps the order it was provisioned with.
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r Role) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
