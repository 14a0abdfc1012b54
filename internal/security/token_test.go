package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestKeys(t *testing.T) KeySet {
	t.Helper()
	keys, err := NewKeySet("k1", "test-secret-key-for-jwt-signing", nil)
	require.NoError(t, err)
	return keys
}

func newTestTokenService(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(TokenConfig{
		Keys:       newTestKeys(t),
		Issuer:     "authgate-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func startClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func TestIssueAndValidate(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	pair, err := svc.Issue("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, "user-1", pair.Subject)

	claims, err := svc.Validate(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, AccessToken, claims.Kind)
	assert.NotEmpty(t, claims.TokenID)
	assert.True(t, clock.now.Add(15*time.Minute).Equal(claims.ExpiresAt))

	refreshClaims, err := svc.Validate(pair.RefreshToken, RefreshToken)
	require.NoError(t, err)
	assert.True(t, clock.now.Add(7*24*time.Hour).Equal(refreshClaims.ExpiresAt))
}

func TestValidateExpiryBoundary(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	pair, err := svc.Issue("user-1")
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = svc.Validate(pair.AccessToken, AccessToken)
	require.NoError(t, err, "token must be valid before its expiry")

	clock.Advance(time.Second)
	_, err = svc.Validate(pair.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken, "token must be expired at its expiry")

	clock.Advance(time.Hour)
	_, err = svc.Validate(pair.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsWrongKind(t *testing.T) {
	svc := newTestTokenService(t, startClock())

	pair, err := svc.Issue("user-1")
	require.NoError(t, err)

	_, err = svc.Validate(pair.RefreshToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate(pair.AccessToken, RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := newTestTokenService(t, startClock())

	pair, err := svc.Issue("user-1")
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = svc.Validate(tampered, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	otherKeys, err := NewKeySet("k1", "a-different-secret", nil)
	require.NoError(t, err)
	other, err := NewTokenService(TokenConfig{
		Keys:       otherKeys,
		Issuer:     "authgate-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	pair, err := other.Issue("user-1")
	require.NoError(t, err)

	_, err = svc.Validate(pair.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsMalformed(t *testing.T) {
	svc := newTestTokenService(t, startClock())

	for _, tok := range []string{"", "not-a-jwt", "abc.def", "a.b.c"} {
		_, err := svc.Validate(tok, AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
	}
}

func TestValidateRejectsUnexpectedAlgorithm(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	claims := tokenClaims{
		Kind: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "authgate-test",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString([]byte("test-secret-key-for-jwt-signing"))
	require.NoError(t, err)

	_, err = svc.Validate(signed, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRotatesPair(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	pair, err := svc.Issue("user-42")
	require.NoError(t, err)

	rotated, err := svc.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, pair.ExpiresIn, rotated.ExpiresIn)
	assert.Equal(t, "user-42", rotated.Subject)

	claims, err := svc.Validate(rotated.AccessToken, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
}

func TestRefreshFailures(t *testing.T) {
	clock := startClock()
	svc := newTestTokenService(t, clock)

	pair, err := svc.Issue("user-42")
	require.NoError(t, err)

	_, err = svc.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "access token is not a refresh token")

	_, err = svc.Refresh(pair.RefreshToken + "x")
	assert.ErrorIs(t, err, ErrInvalidToken, "tampered")

	_, err = svc.Refresh("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken, "malformed")

	clock.Advance(7 * 24 * time.Hour)
	_, err = svc.Refresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired refresh token")
	assert.NotErrorIs(t, err, ErrExpiredToken)
}

func TestKeyRotationAcceptsRetiredKey(t *testing.T) {
	clock := startClock()
	oldSvc := newTestTokenService(t, clock)

	pair, err := oldSvc.Issue("user-1")
	require.NoError(t, err)

	rotatedKeys, err := NewKeySet("k2", "the-new-secret", map[string]string{
		"k1": "test-secret-key-for-jwt-signing",
	})
	require.NoError(t, err)
	newSvc, err := NewTokenService(TokenConfig{
		Keys:       rotatedKeys,
		Issuer:     "authgate-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	claims, err := newSvc.Validate(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	fresh, err := newSvc.Issue("user-1")
	require.NoError(t, err)
	_, err = oldSvc.Validate(fresh.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "old service does not know k2")
}

func TestNewKeySetRejectsEmptySecret(t *testing.T) {
	_, err := NewKeySet("k1", "", nil)
	assert.Error(t, err)

	_, err = NewKeySet("k1", "secret", map[string]string{"k0": ""})
	assert.Error(t, err)
}

func TestNewTokenServiceValidatesConfig(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Keys: newTestKeys(t), AccessTTL: 0, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenService(TokenConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)
}

func TestIssueRejectsEmptyUserID(t *testing.T) {
	svc := newTestTokenService(t, startClock())

	_, err := svc.Issue("")
	assert.Error(t, err)
}
