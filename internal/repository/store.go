package repository

import (
	"context"
	"errors"
	"fmt"

	"authgate/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrRoleNotFound    = errors.New("role not found")
	ErrRoleNotAssigned = errors.New("role not assigned to user")
)

// Store is the credential store. Implementations must make CreateUser fail
// with ErrEmailTaken instead of overwriting, and must never touch the
// password hash outside SetPasswordHash.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByID(ctx context.Context, id string) (models.User, error)
	// FindPrincipal loads a user together with its roles.
	FindPrincipal(ctx context.Context, id string) (models.Principal, error)
	CreateUser(ctx context.Context, user *models.User) error
	// UpdateUser locks the row, applies mutate and writes back the mutable
	// profile fields. mutate must not call back into the store.
	UpdateUser(ctx context.Context, id string, mutate func(*models.User) error) (models.User, error)
	SetPasswordHash(ctx context.Context, id string, hash string) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, q ListUsersQuery) (UserPage, error)

	FindRoleByName(ctx context.Context, name models.RoleName) (models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	UpsertRole(ctx context.Context, role *models.Role) error
	AddRoleToUser(ctx context.Context, userID string, roleID string) error
	RemoveRoleFromUser(ctx context.Context, userID string, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]models.Role, error)

	// WithinTx runs fn atomically. fn must use the Store it is given.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type UserSortField string

const (
	SortByCreatedAt UserSortField = "createdAt"
	SortByEmail     UserSortField = "email"
	SortByLastLogin UserSortField = "lastLogin"
	SortByFirstName UserSortField = "firstName"
	SortByLastName  UserSortField = "lastName"
)

// sortColumns whitelists the SQL columns a listing may be ordered by.
var sortColumns = map[UserSortField]string{
	SortByCreatedAt: "created_at",
	SortByEmail:     "email",
	SortByLastLogin: "last_login_at",
	SortByFirstName: "first_name",
	SortByLastName:  "last_name",
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type ListUsersQuery struct {
	Page       int
	Limit      int
	SortBy     UserSortField
	Descending bool
}

// Normalize fills defaults and rejects values that cannot be served.
func (q ListUsersQuery) Normalize() (ListUsersQuery, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	if q.Page < 1 {
		return q, fmt.Errorf("page must be positive, got %d", q.Page)
	}
	if q.Limit < 1 || q.Limit > MaxPageSize {
		return q, fmt.Errorf("limit must be between 1 and %d, got %d", MaxPageSize, q.Limit)
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		return q, fmt.Errorf("cannot sort by %q", q.SortBy)
	}
	return q, nil
}

func (q ListUsersQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

type UserPage struct {
	Users       []models.Principal
	TotalItems  int
	TotalPages  int
	CurrentPage int
}

func newUserPage(users []models.Principal, total int, q ListUsersQuery) UserPage {
	pages := 0
	if total > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	if users == nil {
		users = []models.Principal{}
	}
	return UserPage{Users: users, TotalItems: total, TotalPages: pages, CurrentPage: q.Page}
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
