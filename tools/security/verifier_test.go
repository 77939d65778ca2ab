package security

import (
	"errors"
	"testing"
	"time"

	"MarketChat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("verifier-test")

func sign(t *testing.T, key any, method jwtlib.SigningMethod, claims jwtlib.MapClaims) string {
	tok, err := jwtlib.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestVerifyAccess(t *testing.T) {
	v := NewVerifier(DefaultOptions(secret))
	pair, err := v.Issue("u1")
	require.NoError(t, err)
	assert.True(t, pair.ExpireAt.After(time.Now()))

	uid, err := v.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	uid, err = v.Verify("  " + pair.AccessToken + " ")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestVerifyFailures(t *testing.T) {
	v := NewVerifier(DefaultOptions(secret))
	past := time.Now().Add(-time.Hour).Unix()

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", errs.ErrUnauthorized},
		{"garbage", "a.b.c", errs.ErrAuthInvalid},
		{"expired", sign(t, secret, jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "u1", "exp": past}), errs.ErrAuthExpired},
		{"wrong key", sign(t, []byte("other"), jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "u1"}), errs.ErrAuthInvalid},
		{"no subject", sign(t, secret, jwtlib.SigningMethodHS256, jwtlib.MapClaims{"iat": time.Now().Unix()}), errs.ErrAuthInvalid},
		{"none alg", sign(t, jwtlib.UnsafeAllowNoneSignatureType, jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "u1"}), errs.ErrAuthInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
}

func TestExpiredIsDistinctFromInvalid(t *testing.T) {
	v := NewVerifier(DefaultOptions(secret))
	expired := sign(t, secret, jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})
	_, err := v.Verify(expired)
	assert.Equal(t, errs.MsgJwtExpired, errs.Message(err))
	assert.False(t, errors.Is(err, errs.ErrAuthInvalid))

	// leeway 内不算过期
	lenient := DefaultOptions(secret)
	lenient.Leeway = 5 * time.Minute
	uid, err := NewVerifier(lenient).Verify(expired)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestRefreshScope(t *testing.T) {
	v := NewVerifier(DefaultOptions(secret))
	pair, err := v.Issue("u1")
	require.NoError(t, err)

	_, err = v.Verify(pair.RefreshToken)
	assert.True(t, errors.Is(err, errs.ErrAuthInvalid), "refresh token is not an access token")

	uid, err := v.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = v.VerifyRefresh(pair.AccessToken)
	assert.True(t, errors.Is(err, errs.ErrAuthInvalid))
}

func TestLegacyUserIDClaim(t *testing.T) {
	v := NewVerifier(DefaultOptions(secret))
	tok := sign(t, secret, jwtlib.SigningMethodHS256, jwtlib.MapClaims{"user_id": "legacy"})
	uid, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "legacy", uid)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: secret, Alg: "RS256"}, "u1", nil)
	assert.Error(t, err)
}
