package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/cache"
	"authgate/internal/models"
	"authgate/internal/repository"
	"authgate/internal/security"
)

// Stable reason codes for authentication failures. Clients use them to
// decide whether a refresh is worth attempting.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonTokenExpired = "token_expired"
	ReasonUserInactive = "user_inactive"
)

var (
	errInvalidCredentials = apperr.WithCode(apperr.InvalidCredentials, "invalid_credentials", "invalid email or password")
	errUserInactive       = apperr.WithCode(apperr.Unauthenticated, ReasonUserInactive, "user not found or inactive")
	errAccountInactive    = errors.New("account inactive")
)

// AttemptLimiter throttles repeated login failures for one email.
type AttemptLimiter interface {
	Allow(ctx context.Context, email string) error
	RecordFailure(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// TokenIssuer mints and verifies token pairs. *security.TokenService
// implements it.
type TokenIssuer interface {
	Issue(userID string) (security.TokenPair, error)
	Refresh(refreshToken string) (security.TokenPair, error)
	Validate(token string, kind security.TokenKind) (security.Claims, error)
}

type RegistrationPolicy struct {
	DefaultRole    models.RoleName
	SelfAssignable []models.RoleName
}

func (p RegistrationPolicy) allows(name models.RoleName) bool {
	for _, allowed := range p.SelfAssignable {
		if allowed == name {
			return true
		}
	}
	return false
}

type AuthService struct {
	store   repository.Store
	hasher  *security.Hasher
	tokens  TokenIssuer
	limiter AttemptLimiter
	policy  RegistrationPolicy
	now     func() time.Time
	log     zerolog.Logger
}

func NewAuthService(
	store repository.Store,
	hasher *security.Hasher,
	tokens TokenIssuer,
	limiter AttemptLimiter,
	policy RegistrationPolicy,
	log zerolog.Logger,
) *AuthService {
	if limiter == nil {
		limiter = cache.NoopLimiter{}
	}
	return &AuthService{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		limiter: limiter,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	// Role is optional; empty selects the default role.
	Role string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	Principal models.Principal
	Tokens    security.TokenPair
}

// Register creates an active account holding exactly one role and signs it
// in. The requested role is checked before anything is written, so a refused
// role leaves no account behind.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = models.NormalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	if err := checkInput(registrationFields{
		Email:     input.Email,
		Password:  input.Password,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}); err != nil {
		return AuthResult{}, err
	}

	roleName, err := s.resolveRequestedRole(input.Role)
	if err != nil {
		return AuthResult{}, err
	}

	if _, err := s.store.FindUserByEmail(ctx, input.Email); err == nil {
		return AuthResult{}, errEmailTaken()
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to register user", err)
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to register user", err)
	}

	var result AuthResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		role, err := tx.FindRoleByName(ctx, roleName)
		if err != nil {
			return fmt.Errorf("resolve role %s: %w", roleName, err)
		}

		user := &models.User{
			Email:        input.Email,
			PasswordHash: digest,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			IsActive:     true,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := tx.AddRoleToUser(ctx, user.ID, role.ID); err != nil {
			return fmt.Errorf("assign role %s: %w", roleName, err)
		}

		tokens, err := s.tokens.Issue(user.ID)
		if err != nil {
			return err
		}
		result = AuthResult{
			Principal: models.Principal{User: *user, Roles: []models.Role{role}},
			Tokens:    tokens,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return AuthResult{}, errEmailTaken()
		}
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to register user", err)
	}

	s.log.Info().
		Str("user_id", result.Principal.User.ID).
		Str("role", string(roleName)).
		Msg("user registered")

	return result, nil
}

func (s *AuthService) resolveRequestedRole(requested string) (models.RoleName, error) {
	if strings.TrimSpace(requested) == "" {
		return s.policy.DefaultRole, nil
	}
	name, err := models.ParseRoleName(requested)
	if err != nil {
		return "", apperr.WithCode(apperr.InvalidInput, "invalid_role", fmt.Sprintf("unknown role %q", requested))
	}
	if !s.policy.allows(name) {
		return "", apperr.WithCode(apperr.InvalidInput, "role_not_allowed", fmt.Sprintf("role %s cannot be self-assigned", name))
	}
	return name, nil
}

func errEmailTaken() error {
	return apperr.WithCode(apperr.Conflict, "email_taken", "email already registered")
}

// Login verifies credentials and stamps the login time. Unknown email,
// inactive account and wrong password all fail the same way.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := models.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return AuthResult{}, apperr.E(apperr.InvalidInput, "email and password are required")
	}

	if err := s.limiter.Allow(ctx, email); err != nil {
		if errors.Is(err, cache.ErrTooManyAttempts) {
			return AuthResult{}, apperr.WithCode(apperr.TooManyRequests, "too_many_attempts", "too many failed login attempts, try again later")
		}
		s.log.Warn().Err(err).Msg("login limiter unavailable")
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to sign in", err)
	}
	if err != nil || !user.IsActive {
		s.hasher.VerifyDummy(input.Password)
		s.recordFailure(ctx, email)
		return AuthResult{}, errInvalidCredentials
	}
	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		s.recordFailure(ctx, email)
		return AuthResult{}, errInvalidCredentials
	}

	now := s.now()
	user, err = s.store.UpdateUser(ctx, user.ID, func(u *models.User) error {
		if !u.IsActive {
			return errAccountInactive
		}
		u.LastLoginAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, errAccountInactive) || errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to sign in", err)
	}

	roles, err := s.store.RolesForUser(ctx, user.ID)
	if err != nil {
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to sign in", err)
	}

	tokens, err := s.tokens.Issue(user.ID)
	if err != nil {
		return AuthResult{}, apperr.Wrap(apperr.Internal, "failed to sign in", err)
	}

	if err := s.limiter.Reset(ctx, email); err != nil {
		s.log.Warn().Err(err).Msg("reset login failures")
	}
	s.log.Info().Str("user_id", user.ID).Msg("user logged in")

	return AuthResult{Principal: models.Principal{User: user, Roles: roles}, Tokens: tokens}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, email string) {
	if err := s.limiter.RecordFailure(ctx, email); err != nil {
		s.log.Warn().Err(err).Msg("record login failure")
	}
}

// Refresh rotates a token pair. The subject must still exist and be active.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (security.TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return security.TokenPair{}, apperr.WithCode(apperr.InvalidInput, "missing_token", "refresh token is required")
	}

	pair, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrInvalidToken) {
			return security.TokenPair{}, apperr.WithCode(apperr.Unauthenticated, ReasonInvalidToken, "invalid refresh token")
		}
		return security.TokenPair{}, apperr.Wrap(apperr.Internal, "failed to refresh token", err)
	}

	user, err := s.store.FindUserByID(ctx, pair.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return security.TokenPair{}, errUserInactive
		}
		return security.TokenPair{}, apperr.Wrap(apperr.Internal, "failed to refresh token", err)
	}
	if !user.IsActive {
		return security.TokenPair{}, errUserInactive
	}

	return pair, nil
}

// Authenticate resolves a bearer token into a principal with one store
// lookup. Nothing is cached, so deactivation applies on the next request.
func (s *AuthService) Authenticate(ctx context.Context, bearer string) (*models.Principal, error) {
	if bearer == "" {
		return nil, apperr.WithCode(apperr.Unauthenticated, ReasonMissingToken, "authentication required")
	}

	claims, err := s.tokens.Validate(bearer, security.AccessToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, apperr.WithCode(apperr.Unauthenticated, ReasonTokenExpired, "token expired")
		}
		return nil, apperr.WithCode(apperr.Unauthenticated, ReasonInvalidToken, "invalid token")
	}

	principal, err := s.store.FindPrincipal(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, errUserInactive
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to authenticate", err)
	}
	if !principal.User.IsActive {
		return nil, errUserInactive
	}

	return &principal, nil
}

// Logout is advisory. Tokens are stateless and remain valid until they
// expire; the client is expected to discard them.
func (s *AuthService) Logout(_ context.Context, principal *models.Principal) error {
	if principal == nil {
		return apperr.WithCode(apperr.Unauthenticated, ReasonMissingToken, "authentication required")
	}
	s.log.Info().Str("user_id", principal.User.ID).Msg("user logged out")
	return nil
}
