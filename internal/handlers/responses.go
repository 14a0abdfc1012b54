package handlers

import (
	"time"

	"authgate/internal/models"
	"authgate/internal/rbac"
	"authgate/internal/repository"
	"authgate/internal/security"
)

type roleResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type userResponse struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	FirstName   string         `json:"firstName"`
	LastName    string         `json:"lastName"`
	IsActive    bool           `json:"isActive"`
	LastLogin   *time.Time     `json:"lastLogin"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Roles       []roleResponse `json:"roles"`
	Permissions []string       `json:"permissions"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type authResponse struct {
	User userResponse `json:"user"`
	tokenResponse
}

type userPageResponse struct {
	TotalItems  int            `json:"totalItems"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Users       []userResponse `json:"users"`
}

func newRoleResponse(r models.Role) roleResponse {
	perms := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, string(p))
	}
	return roleResponse{ID: r.ID, Name: string(r.Name), Description: r.Description, Permissions: perms}
}

// newUserResponse never exposes the password digest.
func newUserResponse(p models.Principal) userResponse {
	roles := make([]roleResponse, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, newRoleResponse(r))
	}
	effective := rbac.EffectivePermissions(&p)
	perms := make([]string, 0, len(effective))
	for _, perm := range effective {
		perms = append(perms, string(perm))
	}

	u := p.User
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsActive:    u.IsActive,
		LastLogin:   u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		Roles:       roles,
		Permissions: perms,
	}
}

func newTokenResponse(pair security.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}
}

func newUserPageResponse(page repository.UserPage) userPageResponse {
	users := make([]userResponse, 0, len(page.Users))
	for _, p := range page.Users {
		users = append(users, newUserResponse(p))
	}
	return userPageResponse{
		TotalItems:  page.TotalItems,
		TotalPages:  page.TotalPages,
		CurrentPage: page.CurrentPage,
		Users:       users,
	}
}
