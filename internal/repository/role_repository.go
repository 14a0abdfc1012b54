package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"authgate/internal/ids"
	"authgate/internal/models"
)

const roleColumns = `r.id, r.name, r.description, r.permissions, r.created_at, r.updated_at`

func scanRole(row pgx.Row) (models.Role, error) {
	var (
		role        models.Role
		name        string
		permissions []string
	)
	if err := row.Scan(
		&role.ID,
		&name,
		&role.Description,
		&permissions,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return models.Role{}, err
	}
	role.Name = models.RoleName(name)
	role.Permissions = toPermissions(permissions)
	return role, nil
}

func toPermissions(values []string) []models.Permission {
	perms := make([]models.Permission, len(values))
	for i, v := range values {
		perms[i] = models.Permission(v)
	}
	return perms
}

func fromPermissions(perms []models.Permission) []string {
	values := make([]string, len(perms))
	for i, p := range perms {
		values[i] = string(p)
	}
	return values
}

func (s *PostgresStore) FindRoleByName(ctx context.Context, name models.RoleName) (models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.name = $1`

	role, err := scanRole(s.db.QueryRow(ctx, query, string(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Role{}, ErrRoleNotFound
		}
		return models.Role{}, err
	}
	return role, nil
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]models.Role, error) {
	return s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
}

func (s *PostgresStore) RolesForUser(ctx context.Context, userID string) ([]models.Role, error) {
	const query = `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	return s.queryRoles(ctx, query, userID)
}

func (s *PostgresStore) queryRoles(ctx context.Context, query string, args ...any) ([]models.Role, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) rolesForUsers(ctx context.Context, userIDs []string) (map[string][]models.Role, error) {
	const query = `
		SELECT ur.user_id, ` + roleColumns + `
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1)
		ORDER BY r.name
	`

	rows, err := s.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byUser := make(map[string][]models.Role, len(userIDs))
	for rows.Next() {
		var (
			userID      string
			role        models.Role
			name        string
			permissions []string
		)
		if err := rows.Scan(
			&userID,
			&role.ID,
			&name,
			&role.Description,
			&permissions,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, err
		}
		role.Name = models.RoleName(name)
		role.Permissions = toPermissions(permissions)
		byUser[userID] = append(byUser[userID], role)
	}
	return byUser, rows.Err()
}

// UpsertRole provisions a role by name. An existing role keeps its id and
// gets the given description and permissions.
func (s *PostgresStore) UpsertRole(ctx context.Context, role *models.Role) error {
	const query = `
		INSERT INTO roles (id, name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name)
		DO UPDATE SET
			description = EXCLUDED.description,
			permissions = EXCLUDED.permissions,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	id := role.ID
	if id == "" {
		id = ids.New()
	}
	err := s.db.QueryRow(ctx, query,
		id,
		string(role.Name),
		role.Description,
		fromPermissions(role.Permissions),
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert role %s: %w", role.Name, err)
	}
	return nil
}

// AddRoleToUser is idempotent: assigning a held role is not an error.
func (s *PostgresStore) AddRoleToUser(ctx context.Context, userID string, roleID string) error {
	const query = `
		INSERT INTO user_roles (user_id, role_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, userID, roleID); err != nil {
		code, constraint := pgErrorCode(err)
		if code == foreignKeyViolation {
			if constraint == "user_roles_user_id_fkey" {
				return ErrUserNotFound
			}
			return ErrRoleNotFound
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveRoleFromUser(ctx context.Context, userID string, roleID string) error {
	const query = `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`

	cmd, err := s.db.Exec(ctx, query, userID, roleID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRoleNotAssigned
	}
	return nil
}
