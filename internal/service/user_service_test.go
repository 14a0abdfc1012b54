package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/apperr"
	"authgate/internal/ids"
	"authgate/internal/models"
	"authgate/internal/repository"
)

func strPtr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice@x.com", "")
	id := reg.Principal.User.ID

	updated, err := f.users.UpdateProfile(ctx, id, ProfileInput{FirstName: strPtr("  Alicia ")})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", updated.User.FirstName)
	assert.Equal(t, "Liddell", updated.User.LastName)
	assert.Equal(t, "alice@x.com", updated.User.Email)

	_, err = f.auth.Login(ctx, LoginInput{Email: "alice@x.com", Password: "Passw0rd"})
	assert.NoError(t, err, "profile updates leave the password alone")

	_, err = f.users.UpdateProfile(ctx, id, ProfileInput{LastName: strPtr("L")})
	assertKind(t, err, apperr.InvalidInput, "")
	stored, err := f.store.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Liddell", stored.LastName, "rejected edits are not written")

	_, err = f.users.UpdateProfile(ctx, id, ProfileInput{})
	assertKind(t, err, apperr.InvalidInput, "")

	_, err = f.users.UpdateProfile(ctx, ids.New(), ProfileInput{FirstName: strPtr("Nobody")})
	assertKind(t, err, apperr.NotFound, "user_not_found")
}

// interleavingStore runs before once, ahead of the next UpdateUser, so
// another write can commit between a caller's request and its locked
// read/modify/write.
type interleavingStore struct {
	*repository.MemoryStore
	before func()
}

func (s *interleavingStore) UpdateUser(ctx context.Context, id string, mutate func(*models.User) error) (models.User, error) {
	if fn := s.before; fn != nil {
		s.before = nil
		fn()
	}
	return s.MemoryStore.UpdateUser(ctx, id, mutate)
}

func TestUpdateProfileKeepsConcurrentEdits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.register(t, "alice@x.com", "").Principal.User.ID

	store := &interleavingStore{
		MemoryStore: f.store,
		before: func() {
			_, err := f.users.UpdateProfile(ctx, id, ProfileInput{LastName: strPtr("Jones")})
			require.NoError(t, err)
		},
	}
	users := NewUserService(store, f.hasher, zerolog.Nop())

	got, err := users.UpdateProfile(ctx, id, ProfileInput{FirstName: strPtr("Alicia")})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.User.FirstName)
	assert.Equal(t, "Jones", got.User.LastName)

	stored, err := f.store.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", stored.FirstName)
	assert.Equal(t, "Jones", stored.LastName)
}

func TestUpdateProfileValidatesMergedRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.register(t, "alice@x.com", "").Principal.User.ID

	_, err := f.users.UpdateProfile(ctx, id, ProfileInput{FirstName: strPtr(" "), LastName: strPtr("Jones")})
	assertKind(t, err, apperr.InvalidInput, "")

	stored, err := f.store.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.FirstName)
	assert.Equal(t, "Liddell", stored.LastName, "a failed edit writes neither name")

	_, err = f.users.UpdateProfile(ctx, "not-a-uuid", ProfileInput{FirstName: strPtr("Alicia")})
	assertKind(t, err, apperr.NotFound, "user_not_found")
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.register(t, "alice@x.com", "").Principal.User.ID

	err := f.users.ChangePassword(ctx, id, "Wr0ngPass", "N3wPassword")
	assertKind(t, err, apperr.InvalidCredentials, "")

	err = f.users.ChangePassword(ctx, id, "Passw0rd", "weak")
	assertKind(t, err, apperr.InvalidInput, "")

	err = f.users.ChangePassword(ctx, id, "Passw0rd", "Passw0rd")
	assertKind(t, err, apperr.InvalidInput, "")

	err = f.users.ChangePassword(ctx, id, "", "N3wPassword")
	assertKind(t, err, apperr.InvalidInput, "")

	require.NoError(t, f.users.ChangePassword(ctx, id, "Passw0rd", "N3wPassword"))

	_, err = f.auth.Login(ctx, LoginInput{Email: "alice@x.com", Password: "Passw0rd"})
	assertKind(t, err, apperr.InvalidCredentials, "")
	_, err = f.auth.Login(ctx, LoginInput{Email: "alice@x.com", Password: "N3wPassword"})
	assert.NoError(t, err)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		f.register(t, email, "")
	}

	page, err := f.users.ListUsers(ctx, repository.ListUsersQuery{Page: 1, Limit: 2, SortBy: repository.SortByEmail})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "a@x.com", page.Users[0].User.Email)
	assert.Equal(t, []models.RoleName{models.RoleSales}, page.Users[0].RoleNames())

	page, err = f.users.ListUsers(ctx, repository.ListUsersQuery{Page: 5, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Equal(t, 5, page.CurrentPage)

	for _, q := range []repository.ListUsersQuery{
		{Page: -1},
		{Limit: repository.MaxPageSize + 1},
		{SortBy: "password"},
	} {
		_, err := f.users.ListUsers(ctx, q)
		assertKind(t, err, apperr.InvalidInput, "")
	}
}

func TestGetUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice@x.com", "legal")

	got, err := f.users.GetUser(ctx, reg.Principal.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", got.User.Email)
	assert.Equal(t, []models.RoleName{models.RoleLegal}, got.RoleNames())

	_, err = f.users.GetUser(ctx, "not-a-uuid")
	assertKind(t, err, apperr.NotFound, "user_not_found")

	_, err = f.users.GetUser(ctx, ids.New())
	assertKind(t, err, apperr.NotFound, "user_not_found")
}

func TestSetUserStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admin := f.register(t, "admin@x.com", "").Principal.User.ID
	f.makeAdmin(t, admin)
	target := f.register(t, "bob@x.com", "")

	_, err := f.users.SetUserStatus(ctx, admin, admin, false)
	assertKind(t, err, apperr.InvalidInput, "")

	got, err := f.users.SetUserStatus(ctx, admin, target.Principal.User.ID, false)
	require.NoError(t, err)
	assert.False(t, got.User.IsActive)

	_, err = f.auth.Authenticate(ctx, target.Tokens.AccessToken)
	assertKind(t, err, apperr.Unauthenticated, ReasonUserInactive)

	got, err = f.users.SetUserStatus(ctx, admin, target.Principal.User.ID, true)
	require.NoError(t, err)
	assert.True(t, got.User.IsActive)

	_, err = f.auth.Authenticate(ctx, target.Tokens.AccessToken)
	assert.NoError(t, err)

	_, err = f.users.SetUserStatus(ctx, admin, ids.New(), false)
	assertKind(t, err, apperr.NotFound, "user_not_found")
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admin := f.register(t, "admin@x.com", "").Principal.User.ID
	target := f.register(t, "bob@x.com", "").Principal.User.ID

	assertKind(t, f.users.DeleteUser(ctx, admin, admin), apperr.InvalidInput, "")

	require.NoError(t, f.users.DeleteUser(ctx, admin, target))

	_, err := f.users.GetUser(ctx, target)
	assertKind(t, err, apperr.NotFound, "user_not_found")

	assertKind(t, f.users.DeleteUser(ctx, admin, target), apperr.NotFound, "user_not_found")

	f.register(t, "bob@x.com", "")
}

func TestAssignAndRevokeRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admin := f.register(t, "admin@x.com", "").Principal.User.ID
	f.makeAdmin(t, admin)
	target := f.register(t, "bob@x.com", "").Principal.User.ID

	got, err := f.users.AssignRole(ctx, admin, target, "admin")
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleAdmin, models.RoleSales}, got.RoleNames())

	got, err = f.users.AssignRole(ctx, admin, target, "Admin")
	require.NoError(t, err, "assigning a held role is a no-op")
	assert.Len(t, got.Roles, 2)

	_, err = f.users.AssignRole(ctx, admin, target, "Marketing")
	assertKind(t, err, apperr.InvalidInput, "invalid_role")

	_, err = f.users.AssignRole(ctx, admin, ids.New(), "PM")
	assertKind(t, err, apperr.NotFound, "user_not_found")

	got, err = f.users.RevokeRole(ctx, admin, target, "Sales")
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleAdmin}, got.RoleNames())

	_, err = f.users.RevokeRole(ctx, admin, target, "Sales")
	assertKind(t, err, apperr.NotFound, "role_not_assigned")

	_, err = f.users.RevokeRole(ctx, admin, admin, "Admin")
	assertKind(t, err, apperr.InvalidInput, "")

	_, err = f.users.RevokeRole(ctx, admin, ids.New(), "Sales")
	assertKind(t, err, apperr.NotFound, "user_not_found")
}

func TestAssignRoleMissingRoleRecord(t *testing.T) {
	store := repository.NewMemoryStore()
	f := newFixtureWithStore(t, store, false, nil)
	ctx := context.Background()

	user := &models.User{Email: "bob@x.com", PasswordHash: "digest", FirstName: "Bob", LastName: "Builder", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, user))

	_, err := f.users.AssignRole(ctx, "admin", user.ID, "PM")
	assertKind(t, err, apperr.NotFound, "role_not_found")
}

func TestListRoles(t *testing.T) {
	f := newFixture(t, nil)

	roles, err := f.users.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, len(models.AllRoles))
	for _, r := range roles {
		assert.NotEmpty(t, r.Permissions, r.Name)
	}
}
