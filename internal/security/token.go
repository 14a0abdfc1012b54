package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/ids"
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

var signingMethod = jwt.SigningMethodHS512

// KeySet holds the active signing key and any retired keys that are still
// accepted for verification. Tokens carry the key id in their "kid" header.
type KeySet struct {
	activeID string
	keys     map[string][]byte
}

func NewKeySet(activeID string, activeSecret string, retired map[string]string) (KeySet, error) {
	if activeSecret == "" {
		return KeySet{}, errors.New("signing secret is empty")
	}
	keys := make(map[string][]byte, len(retired)+1)
	for id, secret := range retired {
		if secret == "" {
			return KeySet{}, fmt.Errorf("retired signing key %q is empty", id)
		}
		keys[id] = []byte(secret)
	}
	keys[activeID] = []byte(activeSecret)

	return KeySet{activeID: activeID, keys: keys}, nil
}

func (k KeySet) lookup(id string) ([]byte, bool) {
	key, ok := k.keys[id]
	return key, ok
}

type TokenConfig struct {
	Keys       KeySet
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type tokenClaims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Kind      TokenKind
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	// Subject is the user id both tokens were issued for.
	Subject string
}

// TokenService issues and verifies stateless signed tokens. Nothing is
// persisted, so an issued token stays valid until it expires.
type TokenService struct {
	cfg TokenConfig
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if _, ok := cfg.Keys.lookup(cfg.Keys.activeID); !ok {
		return nil, errors.New("token service: no active signing key")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token service: token lifetimes must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{cfg: cfg}, nil
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

func (s *TokenService) Issue(userID string) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, errors.New("issue token: empty user id")
	}

	access, err := s.sign(userID, AccessToken, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(userID, RefreshToken, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
		Subject:      userID,
	}, nil
}

// Refresh verifies a refresh token and mints a new pair for its subject.
// Every failure, expiry included, is ErrInvalidToken.
func (s *TokenService) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := s.Validate(refreshToken, RefreshToken)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return TokenPair{}, fmt.Errorf("%w: refresh token expired", ErrInvalidToken)
		}
		return TokenPair{}, err
	}
	return s.Issue(claims.UserID)
}

// Validate checks signature, expiry and kind. It returns ErrExpiredToken once
// the clock reaches the token's expiry and ErrInvalidToken for anything else.
func (s *TokenService) Validate(tokenStr string, kind TokenKind) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	parsed := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, parsed, s.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if parsed.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if parsed.Kind != kind {
		return Claims{}, fmt.Errorf("%w: expected %s token", ErrInvalidToken, kind)
	}

	claims := Claims{
		UserID:  parsed.Subject,
		Kind:    parsed.Kind,
		TokenID: parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

func (s *TokenService) sign(userID string, kind TokenKind, ttl time.Duration) (string, error) {
	now := s.cfg.Now()
	claims := tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ids.NewTokenID(),
		},
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	token.Header["kid"] = s.cfg.Keys.activeID

	key, _ := s.cfg.Keys.lookup(s.cfg.Keys.activeID)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := s.cfg.Keys.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}
