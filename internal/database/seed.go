package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"authgate/internal/config"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

// DefaultRoles is the provisioned role catalogue.
func DefaultRoles() []models.Role {
	return []models.Role{
		{
			Name:        models.RoleAdmin,
			Description: "Full system access",
			Permissions: []models.Permission{models.PermUserRead, models.PermUserWrite, models.PermUserDelete, models.PermRoleManage},
		},
		{
			Name:        models.RoleLegal,
			Description: "Legal department access",
			Permissions: []models.Permission{models.PermUserRead, models.PermLegalRead, models.PermLegalWrite},
		},
		{
			Name:        models.RolePM,
			Description: "Project Manager access",
			Permissions: []models.Permission{models.PermUserRead, models.PermProjectRead, models.PermProjectWrite},
		},
		{
			Name:        models.RoleSales,
			Description: "Sales department access",
			Permissions: []models.Permission{models.PermUserRead, models.PermSalesRead, models.PermSalesWrite},
		},
	}
}

// Seed provisions the role catalogue and, when configured, a bootstrap
// administrator. It is safe to run on every start.
func Seed(ctx context.Context, store repository.Store, hasher *security.Hasher, bootstrap config.BootstrapConfig, log zerolog.Logger) error {
	roles := DefaultRoles()
	for i := range roles {
		if err := store.UpsertRole(ctx, &roles[i]); err != nil {
			return err
		}
	}
	log.Info().Int("roles", len(roles)).Msg("role catalogue provisioned")

	if bootstrap.AdminEmail == "" {
		return nil
	}
	return seedAdmin(ctx, store, hasher, bootstrap, log)
}

func seedAdmin(ctx context.Context, store repository.Store, hasher *security.Hasher, bootstrap config.BootstrapConfig, log zerolog.Logger) error {
	email := models.NormalizeEmail(bootstrap.AdminEmail)

	_, err := store.FindUserByEmail(ctx, email)
	if err == nil {
		log.Debug().Str("email", email).Msg("bootstrap admin already exists")
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	digest, err := hasher.Hash(bootstrap.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		admin, err := tx.FindRoleByName(ctx, models.RoleAdmin)
		if err != nil {
			return fmt.Errorf("find admin role: %w", err)
		}
		user := &models.User{
			Email:        email,
			PasswordHash: digest,
			FirstName:    bootstrap.AdminFirstName,
			LastName:     bootstrap.AdminLastName,
			IsActive:     true,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.AddRoleToUser(ctx, user.ID, admin.ID)
	})
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	log.Info().Str("email", email).Msg("bootstrap admin created")
	return nil
}
