package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, c jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "alice",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifier_Authenticate(t *testing.T) {
	v := NewVerifier(testSecret)

	id, err := v.Authenticate(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.False(t, id.Admin)
}

func TestVerifier_AdminClaim(t *testing.T) {
	v := NewVerifier(testSecret)
	c := validClaims()
	c["admin"] = true

	id, err := v.Authenticate(signToken(t, testSecret, c))
	require.NoError(t, err)
	assert.True(t, id.Admin)
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)
	_, err := v.Authenticate(signToken(t, "other-secret", validClaims()))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_ExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)
	c := validClaims()
	c["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := v.Authenticate(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_MissingSubject(t *testing.T) {
	v := NewVerifier(testSecret)
	c := validClaims()
	delete(c, "sub")

	_, err := v.Authenticate(signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_EmptyAndGarbageTokens(t *testing.T) {
	v := NewVerifier(testSecret)

	_, err := v.Authenticate("")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = v.Authenticate("not.a.jwt")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_CacheHitSkipsVerification(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, validClaims())

	id, err := v.Authenticate(token)
	require.NoError(t, err)

	// Swapping the secret after the first call proves the second call
	// is served from cache.
	v.secret = []byte("rotated")
	again, err := v.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestVerifier_CacheExpires(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, validClaims())

	_, err := v.Authenticate(token)
	require.NoError(t, err)

	v.now = func() time.Time { return time.Now().Add(cacheTTL + time.Minute) }
	v.secret = []byte("rotated")

	_, err = v.Authenticate(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_RejectsUnexpectedAlgorithm(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Authenticate(s)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
