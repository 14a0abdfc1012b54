package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"authgate/internal/ids"
	"authgate/internal/models"
)

// MemoryStore is a Store kept in process memory. It backs the "memory"
// database driver and the service tests.
//
// WithinTx serializes transactions on txMu and restores a snapshot when fn
// fails. Operations issued outside a transaction while one is running are
// not isolated from its rollback.
type MemoryStore struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	users     map[string]models.User
	emails    map[string]string
	roles     map[string]models.Role
	roleNames map[models.RoleName]string
	userRoles map[string]map[string]struct{}
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]models.User),
		emails:    make(map[string]string),
		roles:     make(map[string]models.Role),
		roleNames: make(map[models.RoleName]string),
		userRoles: make(map[string]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[models.NormalizeEmail(email)]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *MemoryStore) FindUserByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (s *MemoryStore) FindPrincipal(_ context.Context, id string) (models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.Principal{}, ErrUserNotFound
	}
	return models.Principal{User: copyUser(user), Roles: s.rolesOf(id)}, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = models.NormalizeEmail(user.Email)
	if _, taken := s.emails[user.Email]; taken {
		return ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	s.users[user.ID] = copyUser(*user)
	s.emails[user.Email] = user.ID
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id string, mutate func(*models.User) error) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	next := copyUser(current)
	if err := mutate(&next); err != nil {
		return models.User{}, err
	}
	next.ID = current.ID
	next.Email = current.Email
	next.PasswordHash = current.PasswordHash
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()

	s.users[id] = copyUser(next)
	return next, nil
}

func (s *MemoryStore) SetPasswordHash(_ context.Context, id string, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	s.users[id] = user
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.emails, user.Email)
	delete(s.userRoles, id)
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context, q ListUsersQuery) (UserPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return UserPage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		all = append(all, user)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if q.SortBy == SortByLastLogin {
			// Users that never logged in sort last in either direction.
			if iNil, jNil := all[i].LastLoginAt == nil, all[j].LastLoginAt == nil; iNil != jNil {
				return jNil
			}
		}
		c := compareUsers(all[i], all[j], q.SortBy)
		if c == 0 {
			c = strings.Compare(all[i].ID, all[j].ID)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	var page []models.Principal
	for i := q.offset(); i < len(all) && len(page) < q.Limit; i++ {
		page = append(page, models.Principal{User: copyUser(all[i]), Roles: s.rolesOf(all[i].ID)})
	}
	return newUserPage(page, len(all), q), nil
}

func compareUsers(a, b models.User, field UserSortField) int {
	switch field {
	case SortByEmail:
		return strings.Compare(a.Email, b.Email)
	case SortByFirstName:
		return strings.Compare(a.FirstName, b.FirstName)
	case SortByLastName:
		return strings.Compare(a.LastName, b.LastName)
	case SortByLastLogin:
		if a.LastLoginAt == nil || b.LastLoginAt == nil {
			return 0
		}
		return a.LastLoginAt.Compare(*b.LastLoginAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s *MemoryStore) FindRoleByName(_ context.Context, name models.RoleName) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roleNames[name]
	if !ok {
		return models.Role{}, ErrRoleNotFound
	}
	return copyRole(s.roles[id]), nil
}

func (s *MemoryStore) ListRoles(_ context.Context) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, copyRole(role))
	}
	sortRoles(roles)
	return roles, nil
}

func (s *MemoryStore) UpsertRole(_ context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.roleNames[role.Name]; ok {
		existing := s.roles[id]
		existing.Description = role.Description
		existing.Permissions = append([]models.Permission(nil), role.Permissions...)
		existing.UpdatedAt = now
		s.roles[id] = existing
		*role = copyRole(existing)
		return nil
	}

	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles[role.ID] = copyRole(*role)
	s.roleNames[role.Name] = role.ID
	return nil
}

func (s *MemoryStore) AddRoleToUser(_ context.Context, userID string, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	assigned, ok := s.userRoles[userID]
	if !ok {
		assigned = make(map[string]struct{})
		s.userRoles[userID] = assigned
	}
	assigned[roleID] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveRoleFromUser(_ context.Context, userID string, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := s.userRoles[userID]
	if _, ok := assigned[roleID]; !ok {
		return ErrRoleNotAssigned
	}
	delete(assigned, roleID)
	return nil
}

func (s *MemoryStore) RolesForUser(_ context.Context, userID string) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rolesOf(userID), nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, s)
}

// rolesOf must be called with mu held.
func (s *MemoryStore) rolesOf(userID string) []models.Role {
	roles := make([]models.Role, 0, len(s.userRoles[userID]))
	for roleID := range s.userRoles[userID] {
		roles = append(roles, copyRole(s.roles[roleID]))
	}
	sortRoles(roles)
	return roles
}

type memorySnapshot struct {
	users     map[string]models.User
	emails    map[string]string
	roles     map[string]models.Role
	roleNames map[models.RoleName]string
	userRoles map[string]map[string]struct{}
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		users:     make(map[string]models.User, len(s.users)),
		emails:    make(map[string]string, len(s.emails)),
		roles:     make(map[string]models.Role, len(s.roles)),
		roleNames: make(map[models.RoleName]string, len(s.roleNames)),
		userRoles: make(map[string]map[string]struct{}, len(s.userRoles)),
	}
	for k, v := range s.users {
		snap.users[k] = copyUser(v)
	}
	for k, v := range s.emails {
		snap.emails[k] = v
	}
	for k, v := range s.roles {
		snap.roles[k] = copyRole(v)
	}
	for k, v := range s.roleNames {
		snap.roleNames[k] = v
	}
	for userID, assigned := range s.userRoles {
		set := make(map[string]struct{}, len(assigned))
		for roleID := range assigned {
			set[roleID] = struct{}{}
		}
		snap.userRoles[userID] = set
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = snap.users
	s.emails = snap.emails
	s.roles = snap.roles
	s.roleNames = snap.roleNames
	s.userRoles = snap.userRoles
}

func copyUser(u models.User) models.User {
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}

func copyRole(r models.Role) models.Role {
	r.Permissions = append([]models.Permission(nil), r.Permissions...)
	return r
}

func sortRoles(roles []models.Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
}
