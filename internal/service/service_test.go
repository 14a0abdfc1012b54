package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/database"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store  *repository.MemoryStore
	hasher *security.Hasher
	tokens *security.TokenService
	clock  *testClock
	auth   *AuthService
	users  *UserService
}

func newFixture(t *testing.T, limiter AttemptLimiter) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryStore(), true, limiter)
}

func newFixtureWithStore(t *testing.T, store *repository.MemoryStore, seed bool, limiter AttemptLimiter) *fixture {
	t.Helper()

	hasher, err := security.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	keys, err := security.NewKeySet("k1", "service-test-secret", nil)
	require.NoError(t, err)
	tokens, err := security.NewTokenService(security.TokenConfig{
		Keys:       keys,
		Issuer:     "authgate-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	if seed {
		require.NoError(t, database.Seed(context.Background(), store, hasher, config.BootstrapConfig{}, zerolog.Nop()))
	}

	auth := NewAuthService(store, hasher, tokens, limiter, RegistrationPolicy{
		DefaultRole:    models.RoleSales,
		SelfAssignable: []models.RoleName{models.RoleSales, models.RolePM, models.RoleLegal},
	}, zerolog.Nop())
	auth.now = clock.Now

	return &fixture{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		clock:  clock,
		auth:   auth,
		users:  NewUserService(store, hasher, zerolog.Nop()),
	}
}

func (f *fixture) register(t *testing.T, email string, role string) AuthResult {
	t.Helper()
	res, err := f.auth.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  "Passw0rd",
		FirstName: "Alice",
		LastName:  "Liddell",
		Role:      role,
	})
	require.NoError(t, err)
	return res
}

// makeAdmin grants Admin through the privileged path.
func (f *fixture) makeAdmin(t *testing.T, userID string) {
	t.Helper()
	role, err := f.store.FindRoleByName(context.Background(), models.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, f.store.AddRoleToUser(context.Background(), userID, role.ID))
}

func assertKind(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "expected *apperr.Error, got %T: %v", err, err)
	assert.Equal(t, kind, appErr.Kind, "kind")
	if code != "" {
		assert.Equal(t, code, appErr.Reason(), "reason")
	}
}
