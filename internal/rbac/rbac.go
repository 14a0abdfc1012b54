// Package rbac answers authorization questions about an authenticated
// principal. Decisions are pure functions of the principal's roles.
package rbac

import (
	"sort"

	"authgate/internal/apperr"
	"authgate/internal/models"
)

var errNoPrincipal = apperr.WithCode(apperr.Unauthenticated, "unauthenticated", "authentication required")

// RequireRole passes when the principal holds at least one of allowed.
func RequireRole(p *models.Principal, allowed ...models.RoleName) error {
	if p == nil {
		return errNoPrincipal
	}
	for _, role := range p.Roles {
		for _, name := range allowed {
			if role.Name == name {
				return nil
			}
		}
	}
	return apperr.WithCode(apperr.Forbidden, "forbidden", "insufficient role")
}

// RequirePermission passes when any of the principal's roles grants perm.
func RequirePermission(p *models.Principal, perm models.Permission) error {
	if p == nil {
		return errNoPrincipal
	}
	for _, role := range p.Roles {
		if role.HasPermission(perm) {
			return nil
		}
	}
	return apperr.WithCode(apperr.Forbidden, "forbidden", "missing permission "+string(perm))
}

// EffectivePermissions is the sorted union of every role's permissions.
func EffectivePermissions(p *models.Principal) []models.Permission {
	if p == nil {
		return nil
	}
	seen := make(map[models.Permission]struct{})
	perms := make([]models.Permission, 0)
	for _, role := range p.Roles {
		for _, perm := range role.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}
