package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const ScopeRefresh = "refresh"

// Options 控制签名与TTL等参数。
type Options struct {
	Secret     []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg        string        // HS256/HS384/HS512（默认 HS256）
	TTL        time.Duration // access token 有效期（默认 2h）
	RefreshTTL time.Duration // refresh token 有效期（默认 30d）
	Leeway     time.Duration // 时钟偏差容忍
}

type JWTClaims struct {
	jwtlib.MapClaims
}

func (c *JWTClaims) Subject() string {
	sub, _ := c.MapClaims.GetSubject()
	if sub != "" {
		return sub
	}
	// 兼容老 token 的 user_id 字段
	if uid, ok := c.MapClaims["user_id"].(string); ok {
		return uid
	}
	return ""
}

func (c *JWTClaims) HasScope(scope string) bool {
	switch v := c.MapClaims["scope"].(type) {
	case []interface{}:
		for _, s := range v {
			if str, ok := s.(string); ok && str == scope {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == scope {
				return true
			}
		}
	case string:
		for _, s := range strings.Fields(v) {
			if s == scope {
				return true
			}
		}
	}
	return false
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour, RefreshTTL: 30 * 24 * time.Hour}
}

func Generate(opts Options, userID string, scopes []string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse 只做签名和时间校验，不区分 token 用途
func Parse(opts Options, token string) (*JWTClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil { // 校验 alg 合法
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithLeeway(opts.Leeway))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
