package security

import (
	"errors"
	"strings"
	"time"

	"MarketChat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// TokenVerifier REST 中间件和 ws 握手共用同一个实现
type TokenVerifier interface {
	Verify(credential string) (userID string, err error)
}

type Verifier struct {
	opts Options
}

func NewVerifier(opts Options) *Verifier {
	return &Verifier{opts: opts}
}

// Verify 校验 access token。
// 空 -> ErrUnauthorized；过期 -> ErrAuthExpired；其余一律 ErrAuthInvalid
func (v *Verifier) Verify(credential string) (string, error) {
	claims, err := v.parse(credential)
	if err != nil {
		return "", err
	}
	if claims.HasScope(ScopeRefresh) {
		return "", errs.ErrAuthInvalid.Wrap()
	}
	return claims.Subject(), nil
}

// VerifyRefresh 校验 refresh token，必须带 refresh scope
func (v *Verifier) VerifyRefresh(credential string) (string, error) {
	claims, err := v.parse(credential)
	if err != nil {
		return "", err
	}
	if !claims.HasScope(ScopeRefresh) {
		return "", errs.ErrAuthInvalid.Wrap()
	}
	return claims.Subject(), nil
}

func (v *Verifier) parse(credential string) (*JWTClaims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errs.ErrUnauthorized.Wrap()
	}
	claims, err := Parse(v.opts, credential)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, errs.ErrAuthExpired.Wrap()
		}
		return nil, errs.ErrAuthInvalid.Wrap()
	}
	if claims.Subject() == "" {
		return nil, errs.ErrAuthInvalid.Wrap()
	}
	return claims, nil
}

type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpireAt     time.Time `json:"expireAt"`
}

// Issue 签发一对 access/refresh token
func (v *Verifier) Issue(userID string) (TokenPair, error) {
	access, exp, err := Generate(v.opts, userID, nil)
	if err != nil {
		return TokenPair{}, errs.WrapMsg(err, "sign access token")
	}
	refreshOpts := v.opts
	refreshOpts.TTL = v.opts.RefreshTTL
	refresh, _, err := Generate(refreshOpts, userID, []string{ScopeRefresh})
	if err != nil {
		return TokenPair{}, errs.WrapMsg(err, "sign refresh token")
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpireAt: exp}, nil
}
