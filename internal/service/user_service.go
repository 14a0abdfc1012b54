package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/ids"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

var errUserNotFound = apperr.WithCode(apperr.NotFound, "user_not_found", "user not found")

// UserService covers self-service profile management and the
// administrative user operations.
type UserService struct {
	store  repository.Store
	hasher *security.Hasher
	log    zerolog.Logger
}

func NewUserService(store repository.Store, hasher *security.Hasher, log zerolog.Logger) *UserService {
	return &UserService{store: store, hasher: hasher, log: log}
}

func (s *UserService) Profile(ctx context.Context, userID string) (models.Principal, error) {
	return s.GetUser(ctx, userID)
}

type ProfileInput struct {
	FirstName *string
	LastName  *string
}

// UpdateProfile changes names only. Email and password have their own
// flows and are never touched here. Only the names the caller set are
// applied, against the row as read under the store's lock.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (models.Principal, error) {
	if input.FirstName == nil && input.LastName == nil {
		return models.Principal{}, apperr.E(apperr.InvalidInput, "nothing to update")
	}
	if !ids.IsValid(userID) {
		return models.Principal{}, errUserNotFound
	}

	if _, err := s.store.UpdateUser(ctx, userID, func(u *models.User) error {
		if input.FirstName != nil {
			u.FirstName = strings.TrimSpace(*input.FirstName)
		}
		if input.LastName != nil {
			u.LastName = strings.TrimSpace(*input.LastName)
		}
		return checkInput(nameFields{FirstName: u.FirstName, LastName: u.LastName})
	}); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.InvalidInput {
			return models.Principal{}, appErr
		}
		return models.Principal{}, s.lookupError(err)
	}

	return s.GetUser(ctx, userID)
}

// ChangePassword is the only path that re-hashes a stored credential.
func (s *UserService) ChangePassword(ctx context.Context, userID string, current string, next string) error {
	if current == "" {
		return apperr.E(apperr.InvalidInput, "currentPassword is required")
	}
	if err := checkInput(passwordField{Password: next}); err != nil {
		return err
	}
	if current == next {
		return apperr.E(apperr.InvalidInput, "newPassword must differ from the current password")
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return s.lookupError(err)
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return apperr.WithCode(apperr.InvalidCredentials, "invalid_credentials", "current password is incorrect")
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to change password", err)
	}
	if err := s.store.SetPasswordHash(ctx, userID, digest); err != nil {
		return s.lookupError(err)
	}

	s.log.Info().Str("user_id", userID).Msg("password changed")
	return nil
}

func (s *UserService) ListUsers(ctx context.Context, q repository.ListUsersQuery) (repository.UserPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return repository.UserPage{}, apperr.E(apperr.InvalidInput, err.Error())
	}
	page, err := s.store.ListUsers(ctx, q)
	if err != nil {
		return repository.UserPage{}, apperr.Wrap(apperr.Internal, "failed to list users", err)
	}
	return page, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (models.Principal, error) {
	if !ids.IsValid(userID) {
		return models.Principal{}, errUserNotFound
	}
	principal, err := s.store.FindPrincipal(ctx, userID)
	if err != nil {
		return models.Principal{}, s.lookupError(err)
	}
	return principal, nil
}

// SetUserStatus activates or deactivates an account. Deactivation takes
// effect on the account's next request. Admins cannot deactivate
// themselves.
func (s *UserService) SetUserStatus(ctx context.Context, actorID string, userID string, active bool) (models.Principal, error) {
	if !ids.IsValid(userID) {
		return models.Principal{}, errUserNotFound
	}
	if actorID == userID && !active {
		return models.Principal{}, apperr.E(apperr.InvalidInput, "you cannot deactivate your own account")
	}

	if _, err := s.store.UpdateUser(ctx, userID, func(u *models.User) error {
		u.IsActive = active
		return nil
	}); err != nil {
		return models.Principal{}, s.lookupError(err)
	}

	s.log.Info().
		Str("actor_id", actorID).
		Str("user_id", userID).
		Bool("active", active).
		Msg("user status changed")

	return s.GetUser(ctx, userID)
}

func (s *UserService) DeleteUser(ctx context.Context, actorID string, userID string) error {
	if !ids.IsValid(userID) {
		return errUserNotFound
	}
	if actorID == userID {
		return apperr.E(apperr.InvalidInput, "you cannot delete your own account")
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return s.lookupError(err)
	}

	s.log.Info().Str("actor_id", actorID).Str("user_id", userID).Msg("user deleted")
	return nil
}

// AssignRole is the privileged grant path; unlike registration it may
// hand out any role, Admin included.
func (s *UserService) AssignRole(ctx context.Context, actorID string, userID string, role string) (models.Principal, error) {
	if !ids.IsValid(userID) {
		return models.Principal{}, errUserNotFound
	}
	name, err := models.ParseRoleName(role)
	if err != nil {
		return models.Principal{}, apperr.WithCode(apperr.InvalidInput, "invalid_role", err.Error())
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		r, err := tx.FindRoleByName(ctx, name)
		if err != nil {
			return err
		}
		return tx.AddRoleToUser(ctx, userID, r.ID)
	})
	if err != nil {
		return models.Principal{}, s.lookupError(err)
	}

	s.log.Info().Str("actor_id", actorID).Str("user_id", userID).Str("role", string(name)).Msg("role assigned")
	return s.GetUser(ctx, userID)
}

func (s *UserService) RevokeRole(ctx context.Context, actorID string, userID string, role string) (models.Principal, error) {
	if !ids.IsValid(userID) {
		return models.Principal{}, errUserNotFound
	}
	name, err := models.ParseRoleName(role)
	if err != nil {
		return models.Principal{}, apperr.WithCode(apperr.InvalidInput, "invalid_role", err.Error())
	}
	if actorID == userID && name == models.RoleAdmin {
		return models.Principal{}, apperr.E(apperr.InvalidInput, "you cannot revoke your own Admin role")
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if _, err := tx.FindUserByID(ctx, userID); err != nil {
			return err
		}
		r, err := tx.FindRoleByName(ctx, name)
		if err != nil {
			return err
		}
		return tx.RemoveRoleFromUser(ctx, userID, r.ID)
	})
	if err != nil {
		return models.Principal{}, s.lookupError(err)
	}

	s.log.Info().Str("actor_id", actorID).Str("user_id", userID).Str("role", string(name)).Msg("role revoked")
	return s.GetUser(ctx, userID)
}

func (s *UserService) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list roles", err)
	}
	return roles, nil
}

// lookupError maps store sentinels to operational errors.
func (s *UserService) lookupError(err error) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return errUserNotFound
	case errors.Is(err, repository.ErrRoleNotFound):
		return apperr.WithCode(apperr.NotFound, "role_not_found", "role not found")
	case errors.Is(err, repository.ErrRoleNotAssigned):
		return apperr.WithCode(apperr.NotFound, "role_not_assigned", "user does not hold that role")
	default:
		return apperr.Wrap(apperr.Internal, "user operation failed", fmt.Errorf("store: %w", err))
	}
}
