package service

import (
	"errors"

	"MarketChat/middleware"
	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"

	"github.com/gin-gonic/gin"
)

type refreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// AuthAPI token 续期；客户端在握手收到 "jwt expired" 后调用一次
type AuthAPI struct {
	verifier *sec.Verifier
	users    userstore.Directory
}

func NewAuthAPI(verifier *sec.Verifier, users userstore.Directory) *AuthAPI {
	return &AuthAPI{verifier: verifier, users: users}
}

func (a *AuthAPI) Register(r *middleware.Routes) {
	r.POST("/auth/refresh-token", a.Refresh, middleware.RouteOpt{})
}

func (a *AuthAPI) Refresh(c *gin.Context) error {
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("refreshToken is required")
	}
	userID, err := a.verifier.VerifyRefresh(req.RefreshToken)
	if err != nil {
		return err
	}
	u, err := a.users.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrUnauthorized.Wrap()
		}
		return err
	}
	if !u.Active() {
		return errs.ErrUnauthorized.Wrap()
	}
	pair, err := a.verifier.Issue(userID)
	if err != nil {
		return err
	}
	middleware.OK(c, pair)
	return nil
}
