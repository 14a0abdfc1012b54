package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/internal/config"
	"authgate/internal/middleware"
	"authgate/internal/models"
	"authgate/internal/service"
)

// Pinger reports whether a backing store is reachable. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerSet struct {
	log   zerolog.Logger
	cfg   *config.AppConfig
	auth  *service.AuthService
	users *service.UserService
	// db and cache are nil when the backing store is not in use.
	db    Pinger
	cache redis.Cmdable
}

func NewHandlerSet(
	log zerolog.Logger,
	cfg *config.AppConfig,
	auth *service.AuthService,
	users *service.UserService,
	db Pinger,
	cache redis.Cmdable,
) HandlerSet {
	return HandlerSet{
		log:   log,
		cfg:   cfg,
		auth:  auth,
		users: users,
		db:    db,
		cache: cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	authenticated := middleware.Authenticate(h.auth)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", authenticated, h.Logout)
		auth.GET("/me", authenticated, h.Me)
	}

	users := v1.Group("/users")
	users.Use(authenticated)
	users.GET("/profile", h.Profile)
	users.PUT("/profile", h.UpdateProfile)
	users.PUT("/profile/password", h.ChangePassword)

	v1.GET("/roles", authenticated, middleware.RequirePermission(models.PermUserRead), h.ListRoles)

	admin := v1.Group("/admin")
	admin.Use(authenticated, middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/users", h.AdminListUsers)
	admin.GET("/users/:id", h.AdminGetUser)
	admin.PUT("/users/:id/status", h.AdminSetUserStatus)
	admin.DELETE("/users/:id", h.AdminDeleteUser)

	roles := admin.Group("/users/:id/roles")
	roles.Use(middleware.RequirePermission(models.PermRoleManage))
	roles.POST("", h.AdminAssignRole)
	roles.DELETE("/:role", h.AdminRevokeRole)
}

// principal is only called behind middleware.Authenticate.
func principal(c *gin.Context) *models.Principal {
	p, _ := middleware.CurrentPrincipal(c)
	return p
}
