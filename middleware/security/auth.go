package security

import (
	"errors"
	"net/http"
	"strings"

	"MarketChat/middleware"
	usermodel "MarketChat/module/user/model"
	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"

	"github.com/gin-gonic/gin"
)

// context key
const (
	CtxUserIDKey = "userID" // string
	CtxUserKey   = "user"   // *usermodel.User
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	QueryToken                string // 默认 "token"，ws 握手浏览器没法带头
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "authorization",
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
	}
}

// ExtractToken 依次取 Bearer 头、自定义头、query 参数
func ExtractToken(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	// 兼容 Authorization: Bearer xxx
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if opts.HeaderToken != "" && !strings.EqualFold(opts.HeaderToken, "authorization") {
		if tok := strings.TrimSpace(r.Header.Get(opts.HeaderToken)); tok != "" {
			return tok
		}
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(r.URL.Query().Get(opts.QueryToken))
	}
	return ""
}

// Authenticate 校验 token 并确认用户仍然存在；REST 和 ws 握手共用
func Authenticate(r *http.Request, verifier sec.TokenVerifier, users userstore.Directory, opts *Options) (*usermodel.User, error) {
	userID, err := verifier.Verify(ExtractToken(r, opts))
	if err != nil {
		return nil, err
	}
	if users == nil {
		return &usermodel.User{UserID: userID}, nil
	}
	u, err := users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// 用户已注销但 token 还没过期
			return nil, errs.ErrUnauthorized.Wrap()
		}
		return nil, err
	}
	if !u.Active() {
		return nil, errs.ErrUnauthorized.Wrap()
	}
	return u, nil
}

func Middleware(verifier sec.TokenVerifier, users userstore.Directory, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		u, err := Authenticate(c.Request, verifier, users, opts)
		if err != nil {
			middleware.Fail(c, err)
			return
		}
		c.Set(CtxUserIDKey, u.UserID)
		c.Set(CtxUserKey, u)
		c.Next()
	}
}

// UserID 取当前登录用户ID
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// CurrentUser 取当前登录用户
func CurrentUser(c *gin.Context) *usermodel.User {
	if v, ok := c.Get(CtxUserKey); ok {
		if u, ok := v.(*usermodel.User); ok {
			return u
		}
	}
	return nil
}
