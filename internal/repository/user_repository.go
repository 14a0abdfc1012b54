package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"authgate/internal/ids"
	"authgate/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW(), NOW()
		)
		RETURNING created_at, updated_at
	`

	if user.ID == "" {
		user.ID = ids.New()
	}
	user.Email = models.NormalizeEmail(user.Email)

	err := s.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if code, _ := pgErrorCode(err); code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRow(ctx, query, models.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// FindPrincipal joins the user with its roles so the authentication gate
// needs a single round trip.
func (s *PostgresStore) FindPrincipal(ctx context.Context, id string) (models.Principal, error) {
	const query = `
		SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.is_active,
		       u.last_login_at, u.created_at, u.updated_at,
		       r.id, r.name, r.description, r.permissions, r.created_at, r.updated_at
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE u.id = $1
		ORDER BY r.name
	`

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return models.Principal{}, err
	}
	defer rows.Close()

	var (
		principal models.Principal
		found     bool
	)
	for rows.Next() {
		var (
			user        models.User
			roleID      *string
			roleName    *string
			description *string
			permissions []string
			createdAt   *time.Time
			updatedAt   *time.Time
		)
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.FirstName,
			&user.LastName,
			&user.IsActive,
			&user.LastLoginAt,
			&user.CreatedAt,
			&user.UpdatedAt,
			&roleID,
			&roleName,
			&description,
			&permissions,
			&createdAt,
			&updatedAt,
		); err != nil {
			return models.Principal{}, err
		}
		if !found {
			principal.User = user
			found = true
		}
		if roleID == nil {
			continue
		}
		role := models.Role{
			ID:          *roleID,
			Name:        models.RoleName(deref(roleName)),
			Description: deref(description),
			Permissions: toPermissions(permissions),
		}
		if createdAt != nil {
			role.CreatedAt = *createdAt
		}
		if updatedAt != nil {
			role.UpdatedAt = *updatedAt
		}
		principal.Roles = append(principal.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return models.Principal{}, err
	}
	if !found {
		return models.Principal{}, ErrUserNotFound
	}
	return principal, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, mutate func(*models.User) error) (models.User, error) {
	const update = `
		UPDATE users
		SET first_name = $2,
		    last_name = $3,
		    is_active = $4,
		    last_login_at = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	var updated models.User
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}

		next := current
		if err := mutate(&next); err != nil {
			return err
		}
		// Identity, email and credentials are not profile fields.
		next.ID = current.ID
		next.Email = current.Email
		next.PasswordHash = current.PasswordHash
		next.CreatedAt = current.CreatedAt

		if err := tx.QueryRow(ctx, update,
			next.ID,
			next.FirstName,
			next.LastName,
			next.IsActive,
			next.LastLoginAt,
		).Scan(&next.UpdatedAt); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return updated, nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id string, hash string) error {
	const query = `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`
	cmd, err := s.db.Exec(ctx, query, id, hash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the user; its role assignments go with it via the
// foreign key cascade, the roles themselves stay.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	cmd, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, q ListUsersQuery) (UserPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return UserPage{}, err
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return UserPage{}, fmt.Errorf("count users: %w", err)
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM users
		ORDER BY %s %s NULLS LAST, id %s
		LIMIT $1 OFFSET $2
	`, userColumns, sortColumns[q.SortBy], dir, dir)

	rows, err := s.db.Query(ctx, query, q.Limit, q.offset())
	if err != nil {
		return UserPage{}, err
	}
	defer rows.Close()

	var (
		users   []models.Principal
		userIDs []string
	)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return UserPage{}, err
		}
		users = append(users, models.Principal{User: user})
		userIDs = append(userIDs, user.ID)
	}
	if err := rows.Err(); err != nil {
		return UserPage{}, err
	}
	rows.Close()

	if len(userIDs) > 0 {
		roles, err := s.rolesForUsers(ctx, userIDs)
		if err != nil {
			return UserPage{}, err
		}
		for i := range users {
			users[i].Roles = roles[users[i].User.ID]
		}
	}

	return newUserPage(users, total, q), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
