package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/models"
)

const principalKey = "principal"

// Authenticator resolves a bearer token into the principal it was issued
// for. service.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*models.Principal, error)
}

func Authenticate(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header. An
// absent header yields "" so the authenticator reports missing_token.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", apperr.WithCode(apperr.Unauthenticated, "invalid_token", "authorization header must be a bearer token")
	}
	return strings.TrimSpace(token), nil
}

// CurrentPrincipal returns the principal stored by Authenticate.
func CurrentPrincipal(c *gin.Context) (*models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*models.Principal)
	return p, ok && p != nil
}
