package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTokens(t *testing.T, secret string) (*TokenService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	tokens, err := NewTokenService(&TokenConfig{
		Secret: []byte(secret),
		TTL:    3600 * time.Second,
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return tokens, clock
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")

	for _, user := range []Identity{"alice", "bob", "user_with-dash"} {
		token, err := tokens.Issue(user)
		require.NoError(t, err)

		got, err := tokens.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, user, got)
	}
}

func TestVerifyExpiresAfterTTL(t *testing.T) {
	tokens, clock := newTestTokens(t, "s3cr3t")

	token, err := tokens.Issue("alice")
	require.NoError(t, err)

	got, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity("alice"), got)

	clock.Advance(3601 * time.Second)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyExpiredExactlyAtTTL(t *testing.T) {
	tokens, clock := newTestTokens(t, "s3cr3t")

	token, err := tokens.Issue("alice")
	require.NoError(t, err)

	clock.Advance(3599 * time.Second)
	_, err = tokens.Verify(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsAlteredSignature(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")

	token, err := tokens.Issue("alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = tokens.Verify(tampered)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")
	other, _ := newTestTokens(t, "another-secret")

	token, err := other.Issue("alice")
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyExpiredForgeryIsMalformed(t *testing.T) {
	tokens, clock := newTestTokens(t, "s3cr3t")
	forger, _ := newTestTokens(t, "guessed")

	token, err := forger.Issue("alice")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	tokens, clock := newTestTokens(t, "s3cr3t")

	claims := UserClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tokens.Verify(unsigned)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")

	for _, raw := range []string{"", "abc", "a.b.c", "Bearer x.y.z"} {
		_, err := tokens.Verify(raw)
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", raw)
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	tokens, clock := newTestTokens(t, "s3cr3t")

	claims := UserClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRequiresExpiry(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")

	claims := UserClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestNewTokenServiceValidation(t *testing.T) {
	_, err := NewTokenService(nil)
	assert.Error(t, err)

	_, err = NewTokenService(&TokenConfig{TTL: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenService(&TokenConfig{Secret: []byte("x"), TTL: 0})
	assert.Error(t, err)
}

func TestIssueRejectsEmptyIdentity(t *testing.T) {
	tokens, _ := newTestTokens(t, "s3cr3t")
	_, err := tokens.Issue("")
	assert.Error(t, err)
}
