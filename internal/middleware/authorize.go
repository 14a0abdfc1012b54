package middleware

import (
	"github.com/gin-gonic/gin"

	"authgate/internal/models"
	"authgate/internal/rbac"
)

// RequireRoles must run after Authenticate. The principal needs at least
// one of roles.
func RequireRoles(roles ...models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := CurrentPrincipal(c)
		if err := rbac.RequireRole(principal, roles...); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}

func RequirePermission(perm models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := CurrentPrincipal(c)
		if err := rbac.RequirePermission(principal, perm); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}
